package modelgw

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/estatecopilot/runtime/runtime/telemetry"
	"golang.org/x/time/rate"
)

type (
	// RetryPolicy controls the Gateway's backoff behavior on retryable
	// provider failures.
	RetryPolicy struct {
		MaxAttempts  int
		InitialDelay time.Duration
		MaxDelay     time.Duration
	}

	// Gateway wraps a per-model Client with retry/backoff and per-model
	// rate limiting, so every provider adapter stays free of those
	// cross-cutting concerns (§2 C3).
	Gateway struct {
		clients map[string]Client
		limiter func(model string) *rate.Limiter
		retry   RetryPolicy
		logger  telemetry.Logger

		limiters map[string]*rate.Limiter
		rps      rate.Limit
		burst    int
	}
)

// DefaultRetryPolicy mirrors the teacher's model-client retry defaults:
// a handful of attempts with exponential backoff capped at a few seconds.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:  4,
	InitialDelay: 250 * time.Millisecond,
	MaxDelay:     8 * time.Second,
}

// NewGateway builds a Gateway over the given model-id -> Client routing
// table. rps/burst bound the request rate applied per model id; pass 0 for
// rps to disable rate limiting.
func NewGateway(clients map[string]Client, retry RetryPolicy, rps float64, burst int, logger telemetry.Logger) *Gateway {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy
	}
	return &Gateway{
		clients:  clients,
		retry:    retry,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (g *Gateway) limiterFor(model string) *rate.Limiter {
	if g.rps <= 0 {
		return nil
	}
	if l, ok := g.limiters[model]; ok {
		return l
	}
	l := rate.NewLimiter(g.rps, g.burst)
	g.limiters[model] = l
	return l
}

// Complete routes req to the client registered for req.Model, applying
// rate limiting and the configured retry policy on retryable failures.
func (g *Gateway) Complete(ctx context.Context, req Request) (Response, error) {
	client, err := g.clientFor(req.Model)
	if err != nil {
		return Response{}, err
	}
	if l := g.limiterFor(req.Model); l != nil {
		if err := l.Wait(ctx); err != nil {
			return Response{}, err
		}
	}

	var resp Response
	err = g.withRetry(ctx, req.Model, "complete", func() error {
		var callErr error
		resp, callErr = client.Complete(ctx, req)
		return callErr
	})
	return resp, err
}

// Embed routes req to the client registered for req.Model, applying the
// same rate limiting and retry policy as Complete.
func (g *Gateway) Embed(ctx context.Context, req EmbedRequest) (EmbedResponse, error) {
	client, err := g.clientFor(req.Model)
	if err != nil {
		return EmbedResponse{}, err
	}
	if l := g.limiterFor(req.Model); l != nil {
		if err := l.Wait(ctx); err != nil {
			return EmbedResponse{}, err
		}
	}

	var resp EmbedResponse
	err = g.withRetry(ctx, req.Model, "embed", func() error {
		var callErr error
		resp, callErr = client.Embed(ctx, req)
		return callErr
	})
	return resp, err
}

func (g *Gateway) clientFor(model string) (Client, error) {
	client, ok := g.clients[model]
	if !ok {
		return nil, NewProviderError("modelgw", "route", KindInvalidRequest, 0, "unrouted_model", "no client registered for model: "+model, "", false, nil)
	}
	return client, nil
}

func (g *Gateway) withRetry(ctx context.Context, model, operation string, call func() error) error {
	var lastErr error
	for attempt := 0; attempt < g.retry.MaxAttempts; attempt++ {
		lastErr = call()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt == g.retry.MaxAttempts-1 {
			return lastErr
		}
		delay := backoffDelay(g.retry, attempt)
		g.logger.Warn(ctx, "retrying model call", "model", model, "operation", operation, "attempt", attempt+1, "delay", delay.String(), "error", lastErr.Error())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	delay := float64(policy.InitialDelay) * math.Pow(2, float64(attempt))
	if max := float64(policy.MaxDelay); delay > max {
		delay = max
	}
	jittered := delay * (0.5 + rand.Float64()*0.5)
	return time.Duration(jittered)
}
