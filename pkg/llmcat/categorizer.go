// Package llmcat resolves titles with an external language model, coercing its free-form
// answers into a closed taxonomy. Unusable answers are corrected, retried with stricter
// prompts and finally resolved through a keyword fallback table.
package llmcat

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/ryanburden/mercari-buddy/internal/logger"
	"github.com/ryanburden/mercari-buddy/internal/normalize"
	"github.com/ryanburden/mercari-buddy/internal/retry"
	"github.com/ryanburden/mercari-buddy/pkg/taxonomy"
	"github.com/ryanburden/mercari-buddy/pkg/types"
)

// ChatClient sends one system+user exchange and returns the raw assistant text
type ChatClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ErrInvalidResponse marks a model answer that could not be mapped onto the taxonomy
var ErrInvalidResponse = errors.New("model response is not a taxonomy pair")

const defaultRequestTimeout = 30 * time.Second

// Config wires a Categorizer. Client and Taxonomy are required.
type Config struct {
	Client   ChatClient
	Taxonomy *taxonomy.Taxonomy
	Logger   *logger.Logger

	// Fallback defaults to DefaultFallback(Taxonomy)
	Fallback *Fallback

	// Retry.MaxAttempts is the total number of model requests per title
	Retry retry.Config

	// AcceptanceDistance bounds fuzzy corrections, see Distance
	AcceptanceDistance float64

	// RateLimitRPM caps requests per minute; excess requests wait. 0 disables the limit.
	RateLimitRPM int

	// MaxConcurrency caps in-flight requests. 0 means unbounded.
	MaxConcurrency int

	// RequestTimeout bounds a single request, independent of the caller's cancellation
	RequestTimeout time.Duration
}

// Outcome is the result of categorizing one title
type Outcome struct {
	Result types.CategorizationResult

	// Permanent is set when an upstream failure that retrying cannot fix forced the fallback
	Permanent bool

	// Cause is the upstream or validation error that led to a fallback result, if any
	Cause error
}

// Stats counts categorizer activity since creation
type Stats struct {
	Requests          int64 `json:"requests"`
	Accepted          int64 `json:"accepted"`
	Corrected         int64 `json:"corrected"`
	InvalidResponses  int64 `json:"invalid_responses"`
	Fallbacks         int64 `json:"fallbacks"`
	PermanentFailures int64 `json:"permanent_failures"`
}

// Categorizer resolves titles through the model. It is safe for concurrent use.
type Categorizer struct {
	client    ChatClient
	tax       *taxonomy.Taxonomy
	validator *Validator
	fallback  *Fallback
	retry     retry.Config
	limiter   *rate.Limiter
	sem       *semaphore.Weighted
	timeout   time.Duration
	log       *logger.Logger

	requests, accepted, corrected, invalid, fallbacks, permanent atomic.Int64
}

// New creates a Categorizer from cfg
func New(cfg Config) (*Categorizer, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("llm categorizer requires a chat client")
	}
	if cfg.Taxonomy == nil {
		return nil, fmt.Errorf("llm categorizer requires a taxonomy")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Fallback == nil {
		cfg.Fallback = DefaultFallback(cfg.Taxonomy)
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	limit := rate.Inf
	if cfg.RateLimitRPM > 0 {
		limit = rate.Limit(float64(cfg.RateLimitRPM) / 60)
	}
	burst := max(cfg.MaxConcurrency, 1)

	var sem *semaphore.Weighted
	if cfg.MaxConcurrency > 0 {
		sem = semaphore.NewWeighted(int64(cfg.MaxConcurrency))
	}

	return &Categorizer{
		client:    cfg.Client,
		tax:       cfg.Taxonomy,
		validator: NewValidator(cfg.Taxonomy, cfg.AcceptanceDistance),
		fallback:  cfg.Fallback,
		retry:     cfg.Retry,
		limiter:   rate.NewLimiter(limit, burst),
		sem:       sem,
		timeout:   cfg.RequestTimeout,
		log:       cfg.Logger,
	}, nil
}

// Categorize resolves a raw title. Format violations never surface as errors: they are
// corrected, retried and finally resolved by the fallback table. An error is returned only
// when ctx is canceled before a result exists or the fallback table has no answer.
func (c *Categorizer) Categorize(ctx context.Context, title string) (Outcome, error) {
	var (
		raw    string
		pair   taxonomy.Pair
		method types.Method
	)

	res := retry.Execute(ctx, retry.Options{
		Config:  c.retry,
		Logger:  c.log.Warn,
		APIName: "llm",
	}, func(ctx context.Context, attempt int) (retry.Outcome, error) {
		prompt := BuildPrompt(c.tax, title, attempt, raw)
		text, err := c.request(ctx, prompt)
		if err != nil {
			return retry.ClassifyError(ctx, err), err
		}
		raw = text

		var ok bool
		pair, method, ok = c.resolve(text)
		if !ok {
			c.invalid.Add(1)
			return retry.Invalid, fmt.Errorf("%w: %q", ErrInvalidResponse, text)
		}
		return retry.Success, nil
	})

	switch res.Outcome {
	case retry.Success:
		if method == types.MethodModel {
			c.accepted.Add(1)
		} else {
			c.corrected.Add(1)
		}
		return Outcome{Result: types.CategorizationResult{
			Category:    pair.Category,
			Subcategory: pair.Subcategory,
			Method:      method,
			Attempts:    res.Attempts,
			RawResponse: raw,
		}}, nil
	case retry.Canceled:
		return Outcome{}, fmt.Errorf("categorization canceled: %w", ctx.Err())
	}

	out := Outcome{Permanent: res.Outcome == retry.Permanent, Cause: res.Err}
	if out.Permanent {
		c.permanent.Add(1)
		c.log.Error("permanent model failure, using fallback", "title", title, "error", res.Err)
	} else {
		c.log.Warn("model attempts exhausted, using fallback", "title", title, "attempts", res.Attempts, "error", res.Err)
	}

	fb, err := c.fallback.Resolve(normalize.Key(title))
	if err != nil {
		return out, fmt.Errorf("failed to categorize %q: %w", title, errors.Join(err, res.Err))
	}
	c.fallbacks.Add(1)
	out.Result = types.CategorizationResult{
		Category:    fb.Category,
		Subcategory: fb.Subcategory,
		Method:      types.MethodFallback,
		Attempts:    res.Attempts,
		RawResponse: raw,
	}
	return out, nil
}

// resolve parses and validates a raw model answer
func (c *Categorizer) resolve(text string) (taxonomy.Pair, types.Method, bool) {
	cand, ok := Parse(text, c.tax)
	if !ok {
		return taxonomy.Pair{}, "", false
	}
	return c.validator.Validate(cand)
}

// request waits for a concurrency slot and the rate limiter using the caller's ctx, then
// sends the prompt detached from it so a canceled batch lets in-flight requests finish
func (c *Categorizer) request(ctx context.Context, p Prompt) (string, error) {
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return "", err
		}
		defer c.sem.Release(1)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	c.requests.Add(1)
	return c.client.Complete(reqCtx, p.System, p.User)
}

// Stats returns a snapshot of the counters
func (c *Categorizer) Stats() Stats {
	return Stats{
		Requests:          c.requests.Load(),
		Accepted:          c.accepted.Load(),
		Corrected:         c.corrected.Load(),
		InvalidResponses:  c.invalid.Load(),
		Fallbacks:         c.fallbacks.Load(),
		PermanentFailures: c.permanent.Load(),
	}
}
