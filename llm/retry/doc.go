// Package retry wraps generation calls with classification-driven,
// prompt-adaptive retries.
//
// On each failure the error is classified into the core taxonomy; the prompt
// is then rewritten according to the classification and the attempt number
// (formatting instructions → exact-structure example → minimal-JSON
// request), the temperature is lowered, and the engine sleeps an
// exponential-backoff delay with jitter scaled by the error severity. Rate
// limits are the exception: they get a fixed long wait and no prompt
// mutation, since rate limits are not a prompt problem.
//
// Attempts within one call are strictly sequential; each attempt's prompt
// depends on the previous attempt's error. After the retry budget is spent
// the caller receives a terminal typed failure, never a raw panic or a bare
// error for the taxonomy cases.
package retry
