// Package tokenizer provides token counting for budget checks and reporting.
//
// Two paths exist: a fast character-count heuristic used on every hot path
// (deterministic and monotonic in text length, so cache keys and budget
// checks are reproducible), and a tiktoken-backed accurate path used only
// where precision matters. The accurate path never fails; it falls back to
// the heuristic on any tokenizer error.
//
// The heuristic ratios are empirically tuned for mixed Chinese/English text
// and do not necessarily generalize to other scripts; treat them as
// configuration, not business logic.
package tokenizer
