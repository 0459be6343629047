// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"time"

	"github.com/jllopis/techpulse/pkg/errors"
)

// WithTimeout runs fn with a context bounded by d and returns no later than
// the deadline, even if fn ignores its context. A zero d only inherits ctx.
// On expiry it returns a TIMEOUT error wrapping the context error.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn(ctx)
		done <- result{value, err}
	}()

	select {
	case <-ctx.Done():
		return zero, errors.New(errors.CodeTimeout, "operation exceeded timeout", ctx.Err()).
			WithContext("timeout", d.String())
	case res := <-done:
		if res.err != nil && ctx.Err() != nil && !errors.HasCode(res.err, errors.CodeTimeout) {
			return zero, errors.New(errors.CodeTimeout, "operation exceeded timeout", ctx.Err()).
				WithContext("timeout", d.String()).
				WithContext("last_error", res.err.Error())
		}
		return res.value, res.err
	}
}
