package restcore

import (
	"context"
	"sync"
)

// Results aggregates the outcome of a batch of requests. Responses and Errors
// are index-aligned with the submitted slice; exactly one of the two is
// non-nil at each index.
type Results struct {
	Responses []*Response
	Errors    []error
}

// Succeeded returns the indexes of requests that completed with a Response.
func (r *Results) Succeeded() []int {
	var idx []int
	for i, resp := range r.Responses {
		if resp != nil {
			idx = append(idx, i)
		}
	}
	return idx
}

// Failed returns the indexes of requests that completed with an error.
func (r *Results) Failed() []int {
	var idx []int
	for i, err := range r.Errors {
		if err != nil {
			idx = append(idx, i)
		}
	}
	return idx
}

// AllSucceeded reports whether every request in the batch returned a Response.
func (r *Results) AllSucceeded() bool {
	for _, err := range r.Errors {
		if err != nil {
			return false
		}
	}
	return true
}

// FirstError returns the first error in submission order, or nil.
func (r *Results) FirstError() error {
	for _, err := range r.Errors {
		if err != nil {
			return err
		}
	}
	return nil
}

// DoAll executes a batch of requests concurrently and waits for all of them.
// Concurrency is capped at the pool's per-host bound; rate limiting and
// retries apply to each request independently. A failure of one request never
// aborts the others; per-request deadlines still apply through ctx.
func (c *Client) DoAll(ctx context.Context, reqs []*Request) *Results {
	results := &Results{
		Responses: make([]*Response, len(reqs)),
		Errors:    make([]error, len(reqs)),
	}
	if len(reqs) == 0 {
		return results
	}

	limit := c.maxConnsPerHost
	if limit < 1 {
		limit = 1
	}
	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req *Request) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results.Responses[i], results.Errors[i] = c.Do(ctx, req)
		}(i, req)
	}
	wg.Wait()

	return results
}
