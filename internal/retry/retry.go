package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"time"
)

// Config holds the configuration for retry logic
type Config struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultConfig returns a sensible default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		BaseDelay:       200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		BackoffMultiple: 2.0,
	}
}

// Delay computes the backoff before the given retry (0 is the first retry)
func (c Config) Delay(retry int) time.Duration {
	multiple := c.BackoffMultiple
	if multiple <= 0 {
		multiple = 1
	}
	delay := time.Duration(float64(c.BaseDelay) * math.Pow(multiple, float64(retry)))
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// Outcome classifies a single attempt
type Outcome int

const (
	// Success ends the loop
	Success Outcome = iota
	// Transient failures are retried after a backoff delay
	Transient
	// Invalid results are retried immediately with a corrective attempt
	Invalid
	// Permanent failures end the loop
	Permanent
	// Canceled means the caller's context ended
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Transient:
		return "transient"
	case Invalid:
		return "invalid"
	case Permanent:
		return "permanent"
	case Canceled:
		return "canceled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Logger defines a function for logging retry attempts as key/value pairs
type Logger func(msg string, keysAndValues ...any)

// AttemptFunc runs one attempt. attempt starts at 1.
type AttemptFunc func(ctx context.Context, attempt int) (Outcome, error)

// Options configures retry behavior
type Options struct {
	Config  Config
	Logger  Logger
	APIName string
}

// Result describes how a retry loop ended
type Result struct {
	Outcome  Outcome
	Attempts int
	Err      error
}

// Execute runs fn until it succeeds, fails permanently, exhausts Config.MaxAttempts or ctx ends.
// Transient outcomes back off before the next attempt; Invalid outcomes retry immediately.
func Execute(ctx context.Context, opts Options, fn AttemptFunc) Result {
	maxAttempts := opts.Config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var last Result
	transientRetries := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Outcome: Canceled, Attempts: attempt - 1, Err: err}
		}

		outcome, err := fn(ctx, attempt)
		last = Result{Outcome: outcome, Attempts: attempt, Err: err}

		switch outcome {
		case Success:
			if attempt > 1 {
				opts.log("request succeeded after retry", "attempt", attempt)
			}
			return last
		case Permanent, Canceled:
			return last
		}

		if attempt == maxAttempts {
			break
		}

		if outcome == Transient {
			delay := opts.Config.Delay(transientRetries)
			transientRetries++
			opts.log("retrying after transient error", "attempt", attempt, "max_attempts", maxAttempts, "delay", delay, "error", err)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Result{Outcome: Canceled, Attempts: attempt, Err: ctx.Err()}
			case <-timer.C:
			}
		} else {
			opts.log("retrying after invalid result", "attempt", attempt, "max_attempts", maxAttempts, "error", err)
		}
	}

	last.Err = &ExhaustedError{APIName: opts.APIName, Attempts: last.Attempts, Last: last.Err}
	return last
}

func (o Options) log(msg string, keysAndValues ...any) {
	if o.Logger == nil {
		return
	}
	if o.APIName != "" {
		keysAndValues = append([]any{"api", o.APIName}, keysAndValues...)
	}
	o.Logger(msg, keysAndValues...)
}

// ExhaustedError represents an error when all retry attempts have been exhausted
type ExhaustedError struct {
	APIName  string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	name := e.APIName
	if name == "" {
		name = "request"
	}
	if e.Last == nil {
		return fmt.Sprintf("retry attempts exhausted for %s after %d attempts", name, e.Attempts)
	}
	return fmt.Sprintf("retry attempts exhausted for %s after %d attempts: %v", name, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// StatusError is a non-2xx response from a remote API
type StatusError struct {
	APIName    string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error %d", e.APIName, e.StatusCode)
}

// Transient reports whether the status is worth retrying
func (e *StatusError) Transient() bool {
	return ClassifyStatus(e.StatusCode) == Transient
}

// transienter is implemented by errors that know whether they are retryable
type transienter interface {
	Transient() bool
}

// ClassifyStatus maps an HTTP status code to an outcome
func ClassifyStatus(code int) Outcome {
	switch {
	case code >= 200 && code < 300:
		return Success
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return Transient
	default:
		return Permanent
	}
}

// ClassifyError maps a transport or API error to an outcome. Deadline and network errors
// are transient; authentication and malformed request errors are permanent. A canceled
// ctx yields Canceled, an expired one does not.
func ClassifyError(ctx context.Context, err error) Outcome {
	if err == nil {
		return Success
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return Canceled
	}

	var t transienter
	if errors.As(err, &t) {
		if t.Transient() {
			return Transient
		}
		return Permanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	return Permanent
}
