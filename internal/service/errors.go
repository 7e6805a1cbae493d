package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"player-portal/internal/observability"
	"player-portal/internal/repositories"
)

var (
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidArgument = errors.New("invalid argument")
)

const (
	conflictAttempts = 3
	conflictDelay    = 15 * time.Millisecond
)

// withRetry runs fn until it succeeds, fails with anything but ErrConflict,
// or runs out of attempts. The last ErrConflict is returned as is.
func withRetry[T any](ctx context.Context, log *slog.Logger, op string, fn func() (T, error)) (T, error) {
	var result T
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(conflictDelay), conflictAttempts-1),
		ctx,
	)
	err := backoff.RetryNotify(func() error {
		v, err := fn()
		if err != nil {
			if errors.Is(err, repositories.ErrConflict) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = v
		return nil
	}, policy, func(err error, wait time.Duration) {
		observability.IncConflictRetry()
		log.WarnContext(ctx, "store conflict, retrying",
			slog.String("op", op),
			slog.Duration("wait", wait),
			slog.Any("error", err))
	})
	return result, err
}
