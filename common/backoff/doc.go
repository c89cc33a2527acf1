// Package backoff provides retry delay helpers with exponential growth and jitter.
//
// Use ExponentialWithJitter to space out retries and WaitContext to sleep
// while honoring cancellation.
package backoff
