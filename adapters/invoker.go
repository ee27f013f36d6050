package adapters

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aixgo-dev/datapilot/capability"
	"github.com/aixgo-dev/datapilot/internal/observability"
	metrics "github.com/aixgo-dev/datapilot/pkg/observability"
)

// invoker applies a Policy around one capability: per-attempt timeout,
// optional rate limiting and bounded exponential retry of retryable
// upstream failures.
type invoker struct {
	cap     capability.Capability
	policy  capability.Policy
	limiter *rate.Limiter
	logger  *zap.Logger
}

func newInvoker(c capability.Capability, policy capability.Policy, logger *zap.Logger) *invoker {
	def := capability.DefaultPolicy()
	if policy.Timeout <= 0 {
		policy.Timeout = def.Timeout
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = def.InitialBackoff
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = def.MaxBackoff
	}

	inv := &invoker{cap: c, policy: policy, logger: logger}
	if policy.RatePerSecond > 0 {
		burst := int(policy.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		inv.limiter = rate.NewLimiter(rate.Limit(policy.RatePerSecond), burst)
	}
	return inv
}

func (i *invoker) invoke(ctx context.Context, req capability.Request) (*capability.Result, error) {
	name := i.cap.Name()
	ctx, span := observability.StartSpan(ctx, "capability."+name)
	span.SetAttributes(
		observability.Attr("capability.name", name),
		observability.Attr("capability.max_attempts", i.policy.MaxAttempts),
	)

	start := time.Now()
	attempts := 0

	op := func() (*capability.Result, error) {
		attempts++
		if i.limiter != nil {
			if err := i.limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}

		actx, cancel := context.WithTimeout(ctx, i.policy.Timeout)
		defer cancel()

		res, err := i.cap.Invoke(actx, req)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, capability.ErrUpstream) {
			err = &capability.UpstreamFailure{Capability: name, Attempts: attempts, Retryable: true, Err: err}
		}
		if !errors.Is(err, capability.ErrUpstream) || !capability.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		i.logger.Warn("capability attempt failed",
			zap.String("capability", name),
			zap.Int("attempt", attempts),
			zap.Error(err))
		return nil, err
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(&backoff.ExponentialBackOff{
			InitialInterval:     i.policy.InitialBackoff,
			MaxInterval:         i.policy.MaxBackoff,
			Multiplier:          2,
			RandomizationFactor: 0.1,
		}),
		backoff.WithMaxTries(uint(i.policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(error, time.Duration) { metrics.RecordRetry(name) }),
	)

	err = finalError(name, attempts, err)
	metrics.RecordInvocation(name, outcome(res, err), time.Since(start))
	span.SetAttributes(observability.Attr("capability.attempts", attempts))
	observability.EndSpan(span, err)
	return res, err
}

// finalError strips retry markers and records the attempt count on
// upstream failures.
func finalError(name string, attempts int, err error) error {
	if err == nil {
		return nil
	}
	// Retry returns a permanent error unwrapped only before the last try.
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	var up *capability.UpstreamFailure
	if errors.As(err, &up) {
		up.Attempts = attempts
		if up.Capability == "" {
			up.Capability = name
		}
	}
	return err
}

func outcome(res *capability.Result, err error) string {
	switch {
	case errors.Is(err, capability.ErrCapabilityUnavailable), err == nil && res != nil && res.Unavailable:
		return metrics.OutcomeUnavailable
	case errors.Is(err, capability.ErrMissingState):
		return metrics.OutcomeMissing
	case err != nil:
		return metrics.OutcomeFailed
	default:
		return metrics.OutcomeOK
	}
}
