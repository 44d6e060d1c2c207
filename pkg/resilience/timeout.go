package resilience

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout runs fn under a deadline of timeout. fn must honour its
// context; when it fails after the deadline the error names the operation
// and wraps context.DeadlineExceeded, or the parent's error if the caller
// cancelled first.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(tctx)
	if err == nil || tctx.Err() == nil {
		return err
	}
	if perr := ctx.Err(); perr != nil {
		return fmt.Errorf("%s: parent context cancelled: %w", name, perr)
	}
	return fmt.Errorf("%s: exceeded %v: %w", name, timeout, context.DeadlineExceeded)
}
