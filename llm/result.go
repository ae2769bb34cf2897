package llm

import "github.com/Axthefish/cogcoach/types"

// Result is the terminal outcome of a resilient generation call.
// Callers receive either data or a typed failure; they must not retry
// further on OK=false; the retry budget has already been spent.
type Result[T any] struct {
	OK           bool                `json:"ok"`
	Data         T                   `json:"data,omitempty"`
	Err          *types.Error        `json:"error,omitempty"`
	Attempts     int                 `json:"attempts"`
	ErrorContext *types.ErrorContext `json:"error_context,omitempty"`
}

// Success builds a successful result.
func Success[T any](data T, attempts int) Result[T] {
	return Result[T]{OK: true, Data: data, Attempts: attempts}
}

// Failure builds a terminal failure result.
func Failure[T any](err *types.Error, attempts int, ectx *types.ErrorContext) Result[T] {
	return Result[T]{OK: false, Err: err, Attempts: attempts, ErrorContext: ectx}
}
