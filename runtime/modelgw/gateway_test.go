package modelgw_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/estatecopilot/runtime/runtime/modelgw"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	failuresBeforeSuccess int
	calls                 int
	lastErr               error
}

func (f *fakeClient) Complete(ctx context.Context, req modelgw.Request) (modelgw.Response, error) {
	f.calls++
	if f.calls <= f.failuresBeforeSuccess {
		return modelgw.Response{}, f.lastErr
	}
	return modelgw.Response{Content: `{"ok":true}`}, nil
}

func (f *fakeClient) Embed(ctx context.Context, req modelgw.EmbedRequest) (modelgw.EmbedResponse, error) {
	return modelgw.EmbedResponse{Vectors: [][]float32{{0.1, 0.2}}}, nil
}

func TestCompleteRetriesRetryableFailures(t *testing.T) {
	client := &fakeClient{
		failuresBeforeSuccess: 2,
		lastErr:               modelgw.NewProviderError("fake", "complete", modelgw.KindRateLimited, 429, "rate_limited", "slow down", "req-1", true, nil),
	}
	gw := modelgw.NewGateway(map[string]modelgw.Client{"fake-model": client},
		modelgw.RetryPolicy{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, 0, 0, nil)

	resp, err := gw.Complete(context.Background(), modelgw.Request{Model: "fake-model"})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Content)
	assert.Equal(t, 3, client.calls)
}

func TestCompleteStopsOnNonRetryableFailure(t *testing.T) {
	client := &fakeClient{
		failuresBeforeSuccess: 5,
		lastErr:               modelgw.NewProviderError("fake", "complete", modelgw.KindInvalidRequest, 400, "bad_request", "malformed", "req-2", false, nil),
	}
	gw := modelgw.NewGateway(map[string]modelgw.Client{"fake-model": client},
		modelgw.RetryPolicy{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, 0, 0, nil)

	_, err := gw.Complete(context.Background(), modelgw.Request{Model: "fake-model"})
	require.Error(t, err)
	assert.Equal(t, 1, client.calls, "non-retryable failures must not be retried")
}

func TestCompleteUnroutedModelReturnsProviderError(t *testing.T) {
	gw := modelgw.NewGateway(map[string]modelgw.Client{}, modelgw.RetryPolicy{}, 0, 0, nil)
	_, err := gw.Complete(context.Background(), modelgw.Request{Model: "missing"})
	require.Error(t, err)
	pe, ok := modelgw.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, modelgw.KindInvalidRequest, pe.Kind)
}

func TestDecodeJSONWrapsFailureWithContent(t *testing.T) {
	var out struct {
		OK bool `json:"ok"`
	}
	err := modelgw.DecodeJSON(modelgw.Response{Content: "not json"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not json")
}

func TestIsRetryableFailsOpenForUnclassifiedErrors(t *testing.T) {
	assert.True(t, modelgw.IsRetryable(errors.New("some transport error")))
	assert.False(t, modelgw.IsRetryable(nil))
}
