package ipc

import (
	"context"
	"fmt"
	"log/slog"
)

const awaitLogPrefix = "ipc:await"

// Await invokes uri and blocks until its first result or until ctx is done.
// When ctx ends first, a TIMEOUT result is delivered in place of the real
// reply, which is dropped if it arrives later. The returned error is the
// *Error for route-not-found and timeout outcomes, nil otherwise.
func Await(ctx context.Context, r *Router, uri string, body []byte) (*Result, error) {
	ch := make(chan *Result, 1)
	pr, ok := r.invoke(ctx, uri, body, func(result *Result) {
		ch <- result
	})
	if !ok {
		result := <-ch
		return result, ErrRouteNotFound
	}

	select {
	case result := <-ch:
		return result, nil
	case <-ctx.Done():
	}

	timeout := ErrorResult(pr.msg, NewError(CodeTimeout, "No reply for %q: %v", pr.msg.Name(), ctx.Err()))
	if r.deliver(pr, timeout) {
		slog.Warn(fmt.Sprintf("%s - %s (seq %s) timed out", awaitLogPrefix, pr.msg.Name(), pr.seq))
		return <-ch, ErrTimeout
	}
	// the real reply won the race
	return <-ch, nil
}
