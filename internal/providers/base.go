package providers

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"

	"github.com/cih1996/AI-intelligent-agent-system/internal/backoff"
	"github.com/cih1996/AI-intelligent-agent-system/internal/observability"
)

// BaseProvider holds the shared transport-retry behaviour every concrete
// provider embeds: 3 attempts, 2s initial delay, doubling each attempt,
// applied only to transport-level failures (spec §4.1). HTTP non-2xx and
// malformed-body errors are returned on the first attempt, unretried.
type BaseProvider struct {
	name    string
	policy  backoff.BackoffPolicy
	max     int
	metrics *observability.Metrics
}

// NewBaseProvider constructs the shared retry wrapper for a provider.
func NewBaseProvider(name string) BaseProvider {
	return BaseProvider{
		name:   name,
		policy: backoff.ProviderPolicy(),
		max:    3,
	}
}

// SetMetrics attaches a metrics sink; nil disables instrumentation.
func (b *BaseProvider) SetMetrics(m *observability.Metrics) {
	b.metrics = m
}

// retryTransport runs op, retrying only while the returned error is a
// TransportError (or a stdlib network/url error), up to the provider's
// fixed attempt budget.
func (b *BaseProvider) retryTransport(ctx context.Context, op func(attempt int) (*Completion, error)) (*Completion, error) {
	start := time.Now()
	completion, err := b.retryTransportUninstrumented(ctx, op)
	status := "success"
	if err != nil {
		status = "error"
	}
	b.metrics.RecordLLMRequest(b.name, status, time.Since(start).Seconds())
	return completion, err
}

func (b *BaseProvider) retryTransportUninstrumented(ctx context.Context, op func(attempt int) (*Completion, error)) (*Completion, error) {
	var lastErr error
	for attempt := 1; attempt <= b.max; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		completion, err := op(attempt)
		if err == nil {
			return completion, nil
		}
		lastErr = err

		if !isTransportError(err) {
			return nil, err
		}
		if attempt >= b.max {
			break
		}
		if err := backoff.SleepWithBackoff(ctx, b.policy, attempt); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func isTransportError(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
