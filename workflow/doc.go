// Package workflow orchestrates one coaching-stage generation end to end:
// compact the conversation history, derive a cache key, consult the response
// cache, run the resilient generation on a miss, and gate the artifact's
// quality before returning it.
package workflow
