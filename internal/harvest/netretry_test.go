package harvest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsNetworkError(t *testing.T) {
	t.Parallel()

	require.False(t, IsNetworkError(nil))
	require.False(t, IsNetworkError(context.Canceled))
	require.False(t, IsNetworkError(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	require.False(t, IsNetworkError(errors.New("invalid request payload")))

	require.True(t, IsNetworkError(errors.New("dial tcp: connection refused")))
	require.True(t, IsNetworkError(errors.New("read: connection reset by peer")))
	require.True(t, IsNetworkError(errors.New("lookup api.example.com: no such host")))
	require.True(t, IsNetworkError(errors.New("net/http: TLS handshake timeout")))
	require.True(t, IsNetworkError(errors.New("unexpected EOF")))
	require.True(t, IsNetworkError(&net.DNSError{Err: "server misbehaving", Name: "x"}))
}

func TestRetryPolicyBackoffDoubles(t *testing.T) {
	t.Parallel()

	p := DefaultRetryPolicy()
	require.Equal(t, 3, p.MaxRetries)
	require.Equal(t, time.Second, p.Backoff(0))
	require.Equal(t, 2*time.Second, p.Backoff(1))
	require.Equal(t, 4*time.Second, p.Backoff(2))
}
