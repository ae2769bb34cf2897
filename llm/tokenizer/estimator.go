package tokenizer

import (
	"unicode/utf8"

	"github.com/Axthefish/cogcoach/types"
)

// Ratios is the tunable chars-per-token configuration of the heuristic.
type Ratios struct {
	// CJKCharsPerToken 中日韩字符的 chars/token 比例。
	CJKCharsPerToken float64 `yaml:"cjk_chars_per_token" json:"cjk_chars_per_token"`
	// ASCIICharsPerToken 其余字符的 chars/token 比例。
	ASCIICharsPerToken float64 `yaml:"ascii_chars_per_token" json:"ascii_chars_per_token"`
	// MessageOverhead per-message token overhead (role markers, separators).
	MessageOverhead int `yaml:"message_overhead" json:"message_overhead"`
}

// DefaultRatios returns the empirical defaults: CJK ~1.5 chars/token,
// ASCII ~4 chars/token, 4 tokens of per-message overhead.
func DefaultRatios() Ratios {
	return Ratios{
		CJKCharsPerToken:   1.5,
		ASCIICharsPerToken: 4.0,
		MessageOverhead:    4,
	}
}

// Estimator is a character-count-based token estimator.
// It distinguishes CJK and ASCII characters for better accuracy compared to
// a naive len/4 approach.
type Estimator struct {
	ratios Ratios
}

// NewEstimator creates an estimator with the given ratios. Zero-valued
// ratios are replaced with defaults.
func NewEstimator(ratios Ratios) *Estimator {
	def := DefaultRatios()
	if ratios.CJKCharsPerToken <= 0 {
		ratios.CJKCharsPerToken = def.CJKCharsPerToken
	}
	if ratios.ASCIICharsPerToken <= 0 {
		ratios.ASCIICharsPerToken = def.ASCIICharsPerToken
	}
	if ratios.MessageOverhead <= 0 {
		ratios.MessageOverhead = def.MessageOverhead
	}
	return &Estimator{ratios: ratios}
}

// Estimate returns the approximate token count of text.
// Deterministic and monotonic in text length.
func (e *Estimator) Estimate(text string) int {
	if text == "" {
		return 0
	}

	totalChars := utf8.RuneCountInString(text)
	cjkCount := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		}
	}

	cjkTokens := float64(cjkCount) / e.ratios.CJKCharsPerToken
	asciiTokens := float64(totalChars-cjkCount) / e.ratios.ASCIICharsPerToken
	estimated := int(cjkTokens + asciiTokens)

	if estimated == 0 {
		estimated = 1
	}
	return estimated
}

// EstimateMessages returns the approximate token count of a message list,
// including per-message overhead.
func (e *Estimator) EstimateMessages(msgs []types.ChatMessage) int {
	total := 0
	for _, msg := range msgs {
		total += e.Estimate(msg.Content) + e.ratios.MessageOverhead
	}
	return total
}

// Name returns the estimator name.
func (e *Estimator) Name() string { return "estimator" }

// isCJK returns true if the rune is a CJK character.
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x20000 && r <= 0x2A6DF) || // CJK Extension B
		(r >= 0xF900 && r <= 0xFAFF) || // CJK Compatibility Ideographs
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols and Punctuation
		(r >= 0xFF00 && r <= 0xFFEF) // Halfwidth and Fullwidth Forms
}
