package classify

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"
)

// Retrying wraps a Classifier and retries temporary failures with
// exponential backoff. The caller's deadline bounds the whole sequence.
type Retrying struct {
	next     Classifier
	attempts int
	base     time.Duration
	maxWait  time.Duration
}

func WithRetry(next Classifier, attempts int, base time.Duration) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrying{next: next, attempts: attempts, base: base, maxWait: 30 * time.Second}
}

func (r *Retrying) Name() string { return r.next.Name() }

func (r *Retrying) Classify(ctx context.Context, req Request) ([]Result, error) {
	var err error
	for attempt := 0; attempt < r.attempts; attempt++ {
		var results []Result
		results, err = r.next.Classify(ctx, req)
		if err == nil || !isTemporary(err) || attempt == r.attempts-1 {
			return results, err
		}

		wait := backoff(attempt, r.base, r.maxWait)
		slog.WarnContext(ctx, "Classifier call failed, retrying",
			"classifier", r.next.Name(),
			"attempt", attempt+1,
			"wait", wait,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, errors.Join(err, ctx.Err())
		case <-time.After(wait):
		}
	}
	return nil, err
}

func backoff(attempt int, base, ceiling time.Duration) time.Duration {
	d := base << attempt
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}

func isTemporary(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
