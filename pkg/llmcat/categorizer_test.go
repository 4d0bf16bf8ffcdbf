package llmcat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ryanburden/mercari-buddy/internal/retry"
	"github.com/ryanburden/mercari-buddy/pkg/taxonomy"
	"github.com/ryanburden/mercari-buddy/pkg/testutil"
	"github.com/ryanburden/mercari-buddy/pkg/types"
)

func newTestCategorizer(t *testing.T, client ChatClient, mutate ...func(*Config)) *Categorizer {
	t.Helper()
	cfg := Config{
		Client:   client,
		Taxonomy: taxonomy.Default(),
		Retry:    retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffMultiple: 2},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create categorizer: %v", err)
	}
	return c
}

func answers(responses ...string) func(ctx context.Context, system, user string) (string, error) {
	var i atomic.Int32
	return func(ctx context.Context, system, user string) (string, error) {
		n := int(i.Add(1)) - 1
		if n >= len(responses) {
			n = len(responses) - 1
		}
		return responses[n], nil
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Taxonomy: taxonomy.Default()}); err == nil {
		t.Error("Expected error without a chat client")
	}
	if _, err := New(Config{Client: &testutil.MockChatClient{}}); err == nil {
		t.Error("Expected error without a taxonomy")
	}
}

func TestCategorize_ExactAnswer(t *testing.T) {
	client := &testutil.MockChatClient{CompleteFunc: answers("Electronics|Mobile Phones")}
	c := newTestCategorizer(t, client)

	out, err := c.Categorize(context.Background(), "iPhone 13 Pro Max 128GB")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	r := out.Result
	if r.Category != "Electronics" || r.Subcategory != "Mobile Phones" {
		t.Errorf("Expected Electronics|Mobile Phones, got %s|%s", r.Category, r.Subcategory)
	}
	if r.Method != types.MethodModel {
		t.Errorf("Expected method model, got %s", r.Method)
	}
	if r.Attempts != 1 || client.Calls() != 1 {
		t.Errorf("Expected a single attempt, got %d attempts and %d calls", r.Attempts, client.Calls())
	}
	if r.RawResponse != "Electronics|Mobile Phones" {
		t.Errorf("Expected raw response to be recorded, got %q", r.RawResponse)
	}
	if !strings.Contains(client.LastUser, "iPhone 13 Pro Max 128GB") {
		t.Errorf("Expected prompt to contain the title, got %q", client.LastUser)
	}
}

func TestCategorize_ProseIsCorrected(t *testing.T) {
	client := &testutil.MockChatClient{CompleteFunc: answers("This is Electronics, specifically Mobile Phones")}
	c := newTestCategorizer(t, client)

	out, err := c.Categorize(context.Background(), "Pixel 7 unlocked")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	r := out.Result
	if r.Category != "Electronics" || r.Subcategory != "Mobile Phones" || r.Method != types.MethodModelCorrected {
		t.Errorf("Expected corrected Electronics|Mobile Phones, got %+v", r)
	}
	if got := c.Stats().Corrected; got != 1 {
		t.Errorf("Expected 1 corrected answer, got %d", got)
	}
}

func TestCategorize_RetriesInvalidWithStricterPrompt(t *testing.T) {
	client := &testutil.MockChatClient{CompleteFunc: answers("I think it's a gadget", "Electronics|Mobile Phones")}
	c := newTestCategorizer(t, client)

	out, err := c.Categorize(context.Background(), "Pixel 7 unlocked")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out.Result.Method != types.MethodModel || out.Result.Attempts != 2 {
		t.Errorf("Expected model answer on attempt 2, got %+v", out.Result)
	}
	if len(client.Users) != 2 || !strings.Contains(client.Users[1], "I think it's a gadget") {
		t.Errorf("Expected the retry prompt to name the rejected answer, got %q", client.Users)
	}
	if c.Stats().InvalidResponses != 1 {
		t.Errorf("Expected 1 invalid response, got %d", c.Stats().InvalidResponses)
	}
}

func TestCategorize_ExhaustedFallsBack(t *testing.T) {
	client := &testutil.MockChatClient{CompleteFunc: answers("no idea")}
	c := newTestCategorizer(t, client)

	out, err := c.Categorize(context.Background(), "Vintage Leather Handbag")
	if err != nil {
		t.Fatalf("Expected fallback without error, got: %v", err)
	}
	r := out.Result
	if r.Method != types.MethodFallback || r.Category != "Clothing" || r.Subcategory != "Accessories" {
		t.Errorf("Expected fallback Clothing|Accessories, got %+v", r)
	}
	if r.Attempts != 3 || client.Calls() != 3 {
		t.Errorf("Expected 3 attempts, got %d (%d calls)", r.Attempts, client.Calls())
	}
	if out.Permanent {
		t.Error("Invalid answers should not be reported as a permanent failure")
	}
	if !errors.Is(out.Cause, ErrInvalidResponse) {
		t.Errorf("Expected cause to wrap ErrInvalidResponse, got %v", out.Cause)
	}
}

func TestCategorize_PermanentFailureSkipsRetries(t *testing.T) {
	client := &testutil.MockChatClient{CompleteFunc: func(ctx context.Context, system, user string) (string, error) {
		return "", &retry.StatusError{APIName: "chat", StatusCode: 401}
	}}
	c := newTestCategorizer(t, client)

	out, err := c.Categorize(context.Background(), "Samsung Galaxy S21")
	if err != nil {
		t.Fatalf("Expected fallback without error, got: %v", err)
	}
	if client.Calls() != 1 {
		t.Errorf("Expected a single call for a permanent failure, got %d", client.Calls())
	}
	if !out.Permanent {
		t.Error("Expected outcome to be flagged permanent")
	}
	r := out.Result
	if r.Method != types.MethodFallback || r.Category != "Electronics" || r.Subcategory != "Mobile Phones" {
		t.Errorf("Expected keyword fallback Electronics|Mobile Phones, got %+v", r)
	}
	if c.Stats().PermanentFailures != 1 {
		t.Errorf("Expected 1 permanent failure, got %d", c.Stats().PermanentFailures)
	}
}

func TestCategorize_TransientIsRetried(t *testing.T) {
	var calls atomic.Int32
	client := &testutil.MockChatClient{CompleteFunc: func(ctx context.Context, system, user string) (string, error) {
		if calls.Add(1) == 1 {
			return "", &retry.StatusError{APIName: "chat", StatusCode: 503}
		}
		return "Footwear|Boots", nil
	}}
	c := newTestCategorizer(t, client)

	out, err := c.Categorize(context.Background(), "Dr Martens 1460")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out.Result.Method != types.MethodModel || out.Result.Attempts != 2 {
		t.Errorf("Expected model answer on attempt 2, got %+v", out.Result)
	}
}

func TestCategorize_TransientExhausted(t *testing.T) {
	client := &testutil.MockChatClient{CompleteFunc: func(ctx context.Context, system, user string) (string, error) {
		return "", &retry.StatusError{APIName: "chat", StatusCode: 429}
	}}
	c := newTestCategorizer(t, client)

	out, err := c.Categorize(context.Background(), "Leather Boots")
	if err != nil {
		t.Fatalf("Expected fallback without error, got: %v", err)
	}
	if client.Calls() != 3 || out.Permanent {
		t.Errorf("Expected 3 transient attempts, got %d calls (permanent=%v)", client.Calls(), out.Permanent)
	}
	if out.Result.Method != types.MethodFallback || out.Result.Category != "Footwear" {
		t.Errorf("Expected footwear fallback, got %+v", out.Result)
	}
}

func TestCategorize_PartialFallbackTable(t *testing.T) {
	tax := taxonomy.Default()
	fb, err := NewFallback(tax, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create fallback: %v", err)
	}
	client := &testutil.MockChatClient{CompleteFunc: answers("???")}
	c := newTestCategorizer(t, client, func(cfg *Config) { cfg.Fallback = fb })

	_, err = c.Categorize(context.Background(), "mystery item")
	if !errors.Is(err, ErrUnresolved) {
		t.Errorf("Expected ErrUnresolved, got %v", err)
	}
}

func TestCategorize_CanceledBeforeRequest(t *testing.T) {
	client := &testutil.MockChatClient{}
	c := newTestCategorizer(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Categorize(ctx, "anything"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if client.Calls() != 0 {
		t.Errorf("Expected no requests after cancellation, got %d", client.Calls())
	}
}

func TestCategorize_InFlightSurvivesCancellation(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var sawCanceled atomic.Bool
	client := &testutil.MockChatClient{CompleteFunc: func(ctx context.Context, system, user string) (string, error) {
		close(started)
		<-release
		sawCanceled.Store(ctx.Err() != nil)
		return "Beauty|Makeup", nil
	}}
	c := newTestCategorizer(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() {
		out, _ := c.Categorize(ctx, "MAC Lipstick Ruby Woo")
		done <- out
	}()

	<-started
	cancel()
	close(release)

	out := <-done
	if sawCanceled.Load() {
		t.Error("In-flight request should not observe the batch cancellation")
	}
	if out.Result.Method != types.MethodModel {
		t.Errorf("Expected the in-flight answer to be used, got %+v", out.Result)
	}
}

func TestCategorize_MaxConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	client := &testutil.MockChatClient{CompleteFunc: func(ctx context.Context, system, user string) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return "Clothing|Tops", nil
	}}
	c := newTestCategorizer(t, client, func(cfg *Config) { cfg.MaxConcurrency = 2 })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Categorize(context.Background(), "plain shirt"); err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > 2 {
		t.Errorf("Expected at most 2 concurrent requests, saw %d", got)
	}
	if client.Calls() != 8 {
		t.Errorf("Expected 8 requests, got %d", client.Calls())
	}
}

func TestCategorize_ClosedTaxonomy(t *testing.T) {
	tax := taxonomy.Default()
	responses := []string{
		"",
		"ELECTRONICS|MOBILE PHONES",
		"Sure! Here you go: Electronics|Mobile Phones. Hope that helps",
		"Category: Toys, Subcategory: Lego",
		"🤷",
		"Footwear|",
		"|Boots",
		"Electronics|Mobile Phones|Extra",
		"Gadgets > Phones",
		"Clothing - Athletic Shoes",
	}

	for _, raw := range responses {
		client := &testutil.MockChatClient{CompleteFunc: answers(raw)}
		c := newTestCategorizer(t, client)

		out, err := c.Categorize(context.Background(), "some listing")
		if err != nil {
			t.Fatalf("Response %q: unexpected error %v", raw, err)
		}
		r := out.Result
		if !tax.Contains(r.Category, r.Subcategory) {
			t.Errorf("Response %q produced %s|%s outside the taxonomy", raw, r.Category, r.Subcategory)
		}
		if !r.Method.Valid() {
			t.Errorf("Response %q produced unknown method %q", raw, r.Method)
		}
	}
}

func TestRateLimiterQueues(t *testing.T) {
	client := &testutil.MockChatClient{}
	// 600 rpm is one request every 100ms after the initial burst of 1
	c := newTestCategorizer(t, client, func(cfg *Config) { cfg.RateLimitRPM = 600 })

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.Categorize(context.Background(), "plain shirt"); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("Expected requests to queue behind the limiter, took %v", elapsed)
	}
}
