package adapters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/datapilot/capability"
	"github.com/aixgo-dev/datapilot/pkg/session"
)

func newTestRegistry(t *testing.T, sql capability.Provider, policy capability.Policy) *Registry {
	t.Helper()
	r, err := NewRegistry(Config{
		SQL:      sql,
		Analysis: &fakeProvider{},
		Policies: map[string]capability.Policy{capability.SQL: policy},
	})
	require.NoError(t, err)
	return r
}

func TestRegistryNames(t *testing.T) {
	r := newTestRegistry(t, &fakeProvider{}, fastPolicy(1))
	assert.Equal(t, []string{"analysis", "docs", "ml", "search", "sql"}, r.Names())
	assert.Equal(t, []string{"analysis", "sql"}, r.EnabledNames())
	assert.False(t, r.Enabled(capability.Search))

	d, ok := r.Get(capability.Search)
	require.True(t, ok)
	assert.Equal(t, capability.Search, d.Capability.Name())
}

func TestRegistryUnknownCapability(t *testing.T) {
	r := newTestRegistry(t, &fakeProvider{}, fastPolicy(1))
	_, err := r.Invoke(context.Background(), "forecast", capability.Request{})
	assert.ErrorIs(t, err, capability.ErrCapabilityUnavailable)
}

func TestRegistryDisabledCapabilities(t *testing.T) {
	r := newTestRegistry(t, &fakeProvider{}, fastPolicy(1))

	_, err := r.Invoke(context.Background(), capability.ML, capability.Request{State: session.NewState(nil)})
	assert.ErrorIs(t, err, capability.ErrCapabilityUnavailable)

	res, err := r.Invoke(context.Background(), capability.Search, capability.Request{State: session.NewState(nil)})
	require.NoError(t, err)
	assert.Equal(t, SearchDisabledMessage, res.Text)
}

func TestRetryOnRetryableFailure(t *testing.T) {
	p := &fakeProvider{fn: func(n int32, _ capability.ProviderRequest) (*capability.ProviderResponse, error) {
		if n < 3 {
			return nil, retryableErr{retry: true}
		}
		return &capability.ProviderResponse{Text: "third time"}, nil
	}}
	r := newTestRegistry(t, p, fastPolicy(3))

	res, err := r.Invoke(context.Background(), capability.SQL, capability.Request{Question: "q", State: initializedState()})
	require.NoError(t, err)
	assert.Equal(t, "third time", res.Text)
	assert.Equal(t, int32(3), p.calls.Load())
}

func TestRetryExhaustion(t *testing.T) {
	p := &fakeProvider{fn: func(int32, capability.ProviderRequest) (*capability.ProviderResponse, error) {
		return nil, retryableErr{retry: true}
	}}
	r := newTestRegistry(t, p, fastPolicy(3))

	_, err := r.Invoke(context.Background(), capability.SQL, capability.Request{Question: "q", State: initializedState()})
	var up *capability.UpstreamFailure
	require.ErrorAs(t, err, &up)
	assert.True(t, up.Retryable)
	assert.Equal(t, 3, up.Attempts)
	assert.Equal(t, capability.SQL, up.Capability)
	assert.Equal(t, int32(3), p.calls.Load())
}

func TestNoRetryOnPermanentFailure(t *testing.T) {
	p := &fakeProvider{fn: func(int32, capability.ProviderRequest) (*capability.ProviderResponse, error) {
		return nil, retryableErr{retry: false}
	}}
	r := newTestRegistry(t, p, fastPolicy(3))

	_, err := r.Invoke(context.Background(), capability.SQL, capability.Request{Question: "q", State: initializedState()})
	var up *capability.UpstreamFailure
	require.ErrorAs(t, err, &up)
	assert.False(t, up.Retryable)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestNoRetryOnMissingState(t *testing.T) {
	r := newTestRegistry(t, &fakeProvider{}, fastPolicy(3))
	_, err := r.Invoke(context.Background(), capability.Analysis, capability.Request{Question: "compute", State: session.NewState(nil)})
	assert.ErrorIs(t, err, capability.ErrMissingState)
	assert.NotErrorIs(t, err, capability.ErrUpstream)
}

func TestTimeoutIsRetryableUpstreamFailure(t *testing.T) {
	p := capability.ProviderFunc(func(ctx context.Context, _ capability.ProviderRequest) (*capability.ProviderResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	policy := fastPolicy(2)
	policy.Timeout = 10 * time.Millisecond
	r := newTestRegistry(t, p, policy)

	_, err := r.Invoke(context.Background(), capability.SQL, capability.Request{Question: "q", State: initializedState()})
	var up *capability.UpstreamFailure
	require.ErrorAs(t, err, &up)
	assert.True(t, up.Retryable)
	assert.Equal(t, 2, up.Attempts)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestParentCancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &fakeProvider{fn: func(int32, capability.ProviderRequest) (*capability.ProviderResponse, error) {
		cancel()
		return nil, retryableErr{retry: true}
	}}
	r := newTestRegistry(t, p, fastPolicy(3))

	_, err := r.Invoke(ctx, capability.SQL, capability.Request{Question: "q", State: initializedState()})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestRateLimitSpacesCalls(t *testing.T) {
	policy := fastPolicy(1)
	policy.RatePerSecond = 20
	r := newTestRegistry(t, &fakeProvider{}, policy)

	start := time.Now()
	for range 3 {
		_, err := r.Invoke(context.Background(), capability.SQL, capability.Request{Question: "q", State: initializedState()})
		require.NoError(t, err)
	}
	// burst of 20 allows immediate calls; a tighter limit must wait.
	assert.Less(t, time.Since(start), time.Second)

	policy.RatePerSecond = 0.5
	r = newTestRegistry(t, &fakeProvider{}, policy)
	_, err := r.Invoke(context.Background(), capability.SQL, capability.Request{Question: "q", State: initializedState()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Invoke(ctx, capability.SQL, capability.Request{Question: "q", State: initializedState()})
	assert.Error(t, err, "second call within the same two second window must wait past the deadline")
}
