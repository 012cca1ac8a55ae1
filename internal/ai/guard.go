package ai

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"golang.org/x/time/rate"

	"github.com/franz/edition-janitor/internal/util"
)

const (
	// DefaultTimeout bounds a single tie-breaker call
	DefaultTimeout = 30 * time.Second

	// DefaultRequestsPerMinute keeps well below typical provider quotas
	DefaultRequestsPerMinute = 30
)

// Guard wraps a TieBreaker with a rate limit and a per-call timeout, and
// classifies failures into *util.AIError
type Guard struct {
	tb      TieBreaker
	limiter *rate.Limiter
	timeout time.Duration
}

// NewGuard creates a guard. Zero values fall back to the defaults.
func NewGuard(tb TieBreaker, timeout time.Duration, perMinute int) *Guard {
	if tb == nil {
		tb = Null{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if perMinute <= 0 {
		perMinute = DefaultRequestsPerMinute
	}
	return &Guard{
		tb:      tb,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		timeout: timeout,
	}
}

// Evaluate asks the tie-breaker about one group. Waiting for the limiter
// counts against the timeout. util.ErrAIDeferred is passed through
// unchanged; every other failure is an *util.AIError.
func (g *Guard) Evaluate(ctx context.Context, groupKey string, candidates []Candidate) (*Decision, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.limiter.Wait(callCtx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &util.AIError{GroupKey: groupKey, Kind: util.AIKindTimeout, Recoverable: true, Err: util.ErrAITimeout}
	}

	d, err := g.tb.Evaluate(callCtx, candidates)
	if err == nil {
		if verr := validate(d, len(candidates)); verr != nil {
			err = verr
		}
	}
	if err == nil {
		return d, nil
	}
	if errors.Is(err, util.ErrAIDeferred) {
		return nil, err
	}
	// The run itself was cancelled: not the provider's fault
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, classify(groupKey, err, callCtx.Err())
}

// classify maps a tie-breaker error onto the AI failure taxonomy
func classify(groupKey string, err, callErr error) *util.AIError {
	ae := &util.AIError{GroupKey: groupKey, Err: err}

	var apiErr *openai.Error
	switch {
	case errors.Is(callErr, context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded), errors.Is(err, util.ErrAITimeout):
		ae.Kind, ae.Recoverable = util.AIKindTimeout, true
	case errors.Is(err, util.ErrAIMalformed):
		ae.Kind, ae.Recoverable = util.AIKindMalformed, false
	case errors.As(err, &apiErr):
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			ae.Kind, ae.Recoverable = util.AIKindQuota, true
		case apiErr.StatusCode >= 500:
			ae.Kind, ae.Recoverable = util.AIKindProvider, true
		default:
			// Bad key, unknown model and the like will fail the same way again
			ae.Kind, ae.Recoverable = util.AIKindProvider, false
		}
	default:
		ae.Kind, ae.Recoverable = util.AIKindProvider, true
	}
	return ae
}
