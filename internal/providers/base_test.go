package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRetryTransport_RetriesOnlyTransportErrors(t *testing.T) {
	base := NewBaseProvider("test")
	base.policy.InitialMs = 1
	base.policy.MaxMs = 2

	attempts := 0
	_, err := base.retryTransport(context.Background(), func(attempt int) (*Completion, error) {
		attempts++
		return nil, &TransportError{Provider: "test", Err: errors.New("connection reset")}
	})

	require.Error(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryTransport_HTTPErrorNotRetried(t *testing.T) {
	base := NewBaseProvider("test")

	attempts := 0
	_, err := base.retryTransport(context.Background(), func(attempt int) (*Completion, error) {
		attempts++
		return nil, &HTTPError{Provider: "test", StatusCode: 400, Message: "bad request"}
	})

	require.Error(t, err)
	require.Equal(t, 1, attempts)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
}

func TestRetryTransport_SucceedsAfterTransientFailure(t *testing.T) {
	base := NewBaseProvider("test")
	base.policy.InitialMs = 1
	base.policy.MaxMs = 2

	attempts := 0
	completion, err := base.retryTransport(context.Background(), func(attempt int) (*Completion, error) {
		attempts++
		if attempt < 2 {
			return nil, &TransportError{Provider: "test", Err: errors.New("timeout")}
		}
		return &Completion{Content: "ok"}, nil
	})

	require.NoError(t, err)
	require.Equal(t, "ok", completion.Content)
	require.Equal(t, 2, attempts)
}
