package httpclient

import (
	"context"
	"io"
	"net/http"
	"time"
)

// RetryPolicy controls when DoWithRetry retries after a response.
type RetryPolicy struct {
	// Retry5xx: on a 5xx response, wait Backoff5xx and retry once.
	Retry5xx   bool
	Backoff5xx time.Duration
}

// DefaultRetryPolicy retries 5xx once after a short backoff. The EPG backend
// is known to throw sporadic 500s under load.
var DefaultRetryPolicy = RetryPolicy{
	Retry5xx:   true,
	Backoff5xx: 1 * time.Second,
}

// DoWithRetry performs req and, when policy allows, retries a 5xx once.
// 4xx responses are never retried. Caller must close resp.Body when err == nil.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, policy RetryPolicy) (*http.Response, error) {
	if client == nil {
		client = Default()
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 500 || !policy.Retry5xx {
		return resp, nil
	}
	// The first attempt consumed the body; it can only be replayed through
	// GetBody. Without one the 5xx response stands.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(policy.Backoff5xx):
	}
	req2 := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		req2.Body = body
	}
	return client.Do(req2)
}
