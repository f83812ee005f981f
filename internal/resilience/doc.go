// Package resilience groups the fault tolerance building blocks used on
// every upstream call: a circuit breaker that sheds load while the LLM
// endpoint is failing and retry logic with exponential backoff and jitter.
//
// Usage Example:
//
//	cb := circuitbreaker.New(circuitbreaker.UpstreamConfig())
//	result, err := cb.Execute(func() (interface{}, error) {
//	    return callUpstream()
//	})
//
//	err := retry.WithBackoff(ctx, retry.DefaultConfig(), func() error {
//	    return performOperation()
//	})
package resilience
