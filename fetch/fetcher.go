package fetch

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// MediaSession supplies authenticated access to media URIs. Implemented by
// api.Client; faked in tests.
type MediaSession interface {
	SessionToken(ctx context.Context) (string, error)
	InvalidateToken(token string)
	MediaGet(ctx context.Context, uri, token string) (*http.Response, error)
}

// Fetcher downloads individual media segments with per-attempt timeouts and
// the retry policy's transient/permanent classification. Safe for concurrent
// use.
type Fetcher struct {
	session MediaSession
	policy  Policy
	timeout time.Duration
}

// NewFetcher creates a segment fetcher.
func NewFetcher(session MediaSession, policy Policy, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{session: session, policy: policy, timeout: timeout}
}

// Fetch downloads one segment. It retries transient failures per the policy
// and returns a *Error once the budget is exhausted or the failure is
// permanent. An expired session token counts as transient: the cached token
// is invalidated so the next attempt runs with a fresh one.
func (f *Fetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	var lastErr *Error
	for attempt := 1; ; attempt++ {
		data, err := f.attempt(ctx, uri)
		if err == nil {
			return data, nil
		}
		lastErr = err

		retry, delay := f.policy.Next(attempt, err.Kind)
		if !retry {
			return nil, lastErr
		}
		log.Printf("[fetch] Attempt %d/%d failed for %s, retrying in %v: %v",
			attempt, f.policy.MaxAttempts, uri, delay, err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, &Error{Kind: Permanent, Err: ctx.Err()}
		}
	}
}

// attempt performs a single download with its own timeout.
func (f *Fetcher) attempt(ctx context.Context, uri string) ([]byte, *Error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	token, err := f.session.SessionToken(attemptCtx)
	if err != nil {
		return nil, &Error{Kind: Transient, Err: fmt.Errorf("session token: %w", err)}
	}

	resp, err := f.session.MediaGet(attemptCtx, uri, token)
	if err != nil {
		return nil, &Error{Kind: classifyNetErr(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		kind := classifyStatus(resp.StatusCode)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			// Likely session expiry; force a refresh for the retry.
			f.session.InvalidateToken(token)
		}
		return nil, &Error{Kind: kind, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status for %s", uri)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: Transient, Err: fmt.Errorf("reading body: %w", err)}
	}
	if len(data) == 0 {
		return nil, &Error{Kind: Permanent, Err: fmt.Errorf("empty segment payload from %s", uri)}
	}
	return data, nil
}
