// Package context implements conversation compaction with key-turning-point
// preservation.
//
// When a conversation exceeds its token budget, the compactor keeps the most
// recent turns and the high-information "key turning point" messages
// verbatim, and replaces the remaining filler with a short summary. Every
// input message is either preserved or covered by the summary, never
// silently dropped.
//
// Key-turning-point detection is a regex/length heuristic approximating
// information density, not a semantic model. Its weights and threshold are
// empirically chosen for mixed Chinese/English coaching conversations and
// are exposed as configuration.
package context
