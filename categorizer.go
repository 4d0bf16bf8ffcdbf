// Package categorizer assigns marketplace product titles to a closed category taxonomy.
// Titles are resolved through an exact and similarity cache, deterministic keyword rules
// and finally a language model, then clustered by embedding so that each result carries
// a confidence score reflecting agreement with its nearest peers.
package categorizer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ryanburden/mercari-buddy/internal/logger"
	"github.com/ryanburden/mercari-buddy/internal/normalize"
	"github.com/ryanburden/mercari-buddy/internal/retry"
	"github.com/ryanburden/mercari-buddy/pkg/adapters"
	"github.com/ryanburden/mercari-buddy/pkg/cache"
	"github.com/ryanburden/mercari-buddy/pkg/cluster"
	"github.com/ryanburden/mercari-buddy/pkg/confidence"
	"github.com/ryanburden/mercari-buddy/pkg/embedding"
	"github.com/ryanburden/mercari-buddy/pkg/llmcat"
	"github.com/ryanburden/mercari-buddy/pkg/rules"
	"github.com/ryanburden/mercari-buddy/pkg/taxonomy"
	"github.com/ryanburden/mercari-buddy/pkg/types"
)

var (
	// ErrEmbeddingUnavailable aborts a batch whose corpus could not be embedded
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrClusteringFailed aborts a batch whose corpus could not be clustered
	ErrClusteringFailed = errors.New("clustering failed")

	// ErrEmptyTitle marks a product whose title normalizes to nothing
	ErrEmptyTitle = errors.New("title has no usable text")

	// ErrClosed is returned once Close has been called
	ErrClosed = errors.New("categorizer is shutting down")
)

// Categorizer runs batches of products through the resolution pipeline. It is safe for
// concurrent use.
type Categorizer struct {
	tax            *taxonomy.Taxonomy
	rules          *rules.Engine
	cache          *cache.Cache
	ownsCache      bool
	llm            *llmcat.Categorizer
	embedder       *embedding.Service
	clusterer      cluster.Clusterer
	scorer         confidence.Scorer
	threshold      float32
	maxConcurrency int
	progress       func(Progress)
	progressLock   sync.Mutex
	log            *logger.Logger

	// In-flight model resolutions keyed by normalized title
	flight singleflight.Group

	// Metrics tracking
	categorized int64
	byMethod    map[types.Method]int64
	cacheHits   int64
	failed      int64
	batches     int64
	shared      atomic.Int64
	metricsLock sync.RWMutex

	// Batch tracking for graceful shutdown
	running      sync.WaitGroup
	shutdownOnce sync.Once
	closing      bool
	closeLock    sync.RWMutex
}

// New creates a Categorizer with the given configuration
func New(cfg Config) (*Categorizer, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := cfg.Logger

	tax := cfg.Taxonomy
	if tax == nil {
		tax = taxonomy.Default()
	}

	ruleEngine := cfg.Rules
	if ruleEngine == nil {
		engine, err := rules.Default(tax)
		if err != nil {
			return nil, fmt.Errorf("failed to create default rules: %w", err)
		}
		ruleEngine = engine
	}

	var chatClient llmcat.ChatClient
	if cfg.ChatClient != nil {
		chatClient = cfg.ChatClient
	} else {
		client, err := adapters.NewDefaultLLMClient(adapters.LLMOptions{
			Model:        cfg.Model,
			BaseURL:      cfg.BaseURL,
			Temperature:  cfg.Temperature,
			DumpRequests: os.Getenv("OPENAI_DUMP_REQUESTS") != "",
			Logger:       log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create default LLM client: %w", err)
		}
		chatClient = client
	}

	var embedder embedding.Embedder
	if cfg.Embedder != nil {
		embedder = cfg.Embedder
	} else if os.Getenv("VOYAGEAI_API_KEY") != "" {
		client, err := adapters.NewVoyageEmbeddingAdapter(nil, "", cfg.Dimension)
		if err != nil {
			return nil, fmt.Errorf("failed to create default embedding client: %w", err)
		}
		embedder = client
	} else {
		log.Info("VOYAGEAI_API_KEY not set, using offline hashing embeddings")
		embedder = embedding.HashingEmbedder{Dimension: cfg.Dimension}
	}

	c, ownsCache := cfg.Cache, false
	if c == nil {
		created, err := cache.New(context.Background(), cache.Config{
			Taxonomy:  tax,
			Logger:    log,
			Dimension: cfg.Dimension,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create cache: %w", err)
		}
		c, ownsCache = created, true
	}

	var clusterer cluster.Clusterer
	if cfg.Clusterer != nil {
		clusterer = cfg.Clusterer
	} else {
		clusterer = &cluster.Density{
			Dimensions:     cfg.ClusterDimensions,
			MinClusterSize: cfg.MinClusterSize,
			Logger:         log.With("component", "cluster"),
		}
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.RetryCount
	if cfg.RetryBackoff > 0 {
		retryCfg.BaseDelay = cfg.RetryBackoff
	}

	llm, err := llmcat.New(llmcat.Config{
		Client:             chatClient,
		Taxonomy:           tax,
		Logger:             log.With("component", "llm"),
		Fallback:           cfg.Fallback,
		Retry:              retryCfg,
		AcceptanceDistance: cfg.ValidationAcceptanceDistance,
		RateLimitRPM:       cfg.RateLimitRPM,
		MaxConcurrency:     cfg.MaxConcurrency,
		RequestTimeout:     cfg.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM categorizer: %w", err)
	}

	return &Categorizer{
		tax:            tax,
		rules:          ruleEngine,
		cache:          c,
		ownsCache:      ownsCache,
		llm:            llm,
		embedder:       embedding.NewService(embedder, cfg.BatchSize, cfg.Dimension),
		clusterer:      clusterer,
		threshold:      cfg.SimilarityThreshold,
		maxConcurrency: cfg.MaxConcurrency,
		progress:       cfg.Progress,
		log:            log,
		byMethod:       make(map[types.Method]int64),
		scorer: confidence.Scorer{
			Weight:           cfg.PeerAgreementWeight,
			ReviewThreshold:  cfg.ConfidenceReviewThreshold,
			Priors:           cfg.Priors,
			SubcategoryShare: cfg.SubcategoryShare,
		},
	}, nil
}

// Taxonomy returns the taxonomy results are drawn from
func (c *Categorizer) Taxonomy() *taxonomy.Taxonomy {
	return c.tax
}

// keyState tracks one distinct normalized title through a batch
type keyState struct {
	key       string
	title     string
	result    types.CategorizationResult
	embedding []float32
	resolved  bool
	permanent bool
	cause     error
	err       error
}

// CategorizeBatch resolves, clusters and scores products. Products that cannot be
// categorized are reported in BatchResult.Errors without affecting the others. The batch
// fails as a whole only when the corpus cannot be embedded or clustered, or ctx is
// canceled; results resolved before a cancellation stay cached.
func (c *Categorizer) CategorizeBatch(ctx context.Context, products []Product) (*BatchResult, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.running.Done()

	start := time.Now()
	batch := &BatchResult{ID: uuid.NewString()}
	log := c.log.With("batch", batch.ID)

	// Group products by normalized key, keeping first-appearance order
	keys := make([]string, len(products))
	itemErrs := make([]error, len(products))
	index := make(map[string]*keyState)
	var states []*keyState
	for i, p := range products {
		keys[i] = normalize.Key(p.Title)
		if keys[i] == "" {
			itemErrs[i] = ErrEmptyTitle
			continue
		}
		if _, ok := index[keys[i]]; !ok {
			s := &keyState{key: keys[i], title: p.Title}
			index[keys[i]] = s
			states = append(states, s)
		}
	}
	log.Info("batch started", "products", len(products), "unique_keys", len(states))

	// Step 1: exact cache, then rules
	var unembedded []*keyState
	for _, s := range states {
		if hit, ok := c.cache.LookupExact(ctx, s.key); ok {
			s.result, s.embedding, s.resolved = hit.Result, hit.Embedding, true
			continue
		}
		if r, ok := c.rules.Resolve(s.key); ok {
			s.result, s.resolved = r, true
		}
		unembedded = append(unembedded, s)
	}

	// Step 2: embed the remainder and try the similarity cache
	if err := c.embed(ctx, unembedded); err != nil {
		return nil, err
	}
	var pending []*keyState
	for _, s := range unembedded {
		if !s.resolved {
			if hit, ok := c.cache.LookupSimilar(ctx, s.embedding, c.threshold); ok {
				s.result, s.resolved = hit.Result, true
			}
		}
		if s.resolved {
			c.store(ctx, s)
			continue
		}
		pending = append(pending, s)
	}
	c.report(Progress{Stage: StageResolve, Done: len(states) - len(pending), Total: len(states)})

	// Step 3: the model, for whatever is left
	if err := c.resolveWithModel(ctx, pending); err != nil {
		log.Warn("batch canceled", "error", err)
		return nil, err
	}
	warned := make(map[string]bool)
	for _, s := range pending {
		if !s.permanent || s.cause == nil {
			continue
		}
		msg := fmt.Sprintf("permanent model failure, fallback used: %v", s.cause)
		if !warned[msg] {
			warned[msg] = true
			batch.Warnings = append(batch.Warnings, msg)
		}
	}

	// Step 4: embed anything resolved without a vector
	var missing []*keyState
	for _, s := range states {
		if s.err == nil && len(s.embedding) == 0 {
			missing = append(missing, s)
		}
	}
	if err := c.embed(ctx, missing); err != nil {
		return nil, err
	}

	// Step 5: cluster the resolved corpus, one vector per product
	var resolvedIdx []int
	for i := range products {
		if itemErrs[i] != nil {
			continue
		}
		if s := index[keys[i]]; s.err != nil {
			itemErrs[i] = s.err
			continue
		}
		resolvedIdx = append(resolvedIdx, i)
	}
	vectors := make([][]float32, len(resolvedIdx))
	for j, i := range resolvedIdx {
		vectors[j] = index[keys[i]].embedding
	}

	c.report(Progress{Stage: StageCluster, Done: 0, Total: len(vectors)})
	labels, err := c.clusterer.Cluster(ctx, vectors)
	if err == nil && len(labels) != len(vectors) {
		err = fmt.Errorf("got %d labels for %d vectors", len(labels), len(vectors))
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("batch canceled: %w", ctxErr)
		}
		log.Error("clustering failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrClusteringFailed, err)
	}
	c.report(Progress{Stage: StageCluster, Done: len(vectors), Total: len(vectors)})

	// Step 6: score and assemble in input order
	items := make([]confidence.Item, len(resolvedIdx))
	for j, i := range resolvedIdx {
		r := index[keys[i]].result
		items[j] = confidence.Item{
			ProductID:   products[i].ID,
			Category:    r.Category,
			Subcategory: r.Subcategory,
			Method:      r.Method,
			Label:       labels[j],
		}
	}
	scores := c.scorer.Score(items)
	summary := confidence.Summarize(items, scores)
	c.report(Progress{Stage: StageScore, Done: len(items), Total: len(items)})

	batch.Records = make([]EnrichedRecord, len(resolvedIdx))
	for j, i := range resolvedIdx {
		batch.Records[j] = EnrichedRecord{
			Product:              products[i],
			CategorizationResult: index[keys[i]].result,
			Key:                  keys[i],
			ClusterLabel:         labels[j],
			Confidence:           scores[j],
		}
	}
	batch.Errors = []ItemError{}
	for i, err := range itemErrs {
		if err == nil {
			continue
		}
		batch.Errors = append(batch.Errors, ItemError{
			ProductID: products[i].ID,
			Title:     products[i].Title,
			Message:   err.Error(),
			Err:       err,
		})
	}

	batch.Summary = summarize(batch, summary, len(products), len(states))
	batch.Summary.Duration = time.Since(start)
	c.recordBatch(batch)

	log.Info("batch finished",
		"records", len(batch.Records),
		"errors", len(batch.Errors),
		"needs_review", batch.Summary.NeedsReview,
		"clusters", batch.Summary.Clusters,
		"duration", batch.Summary.Duration)
	return batch, nil
}

// Categorize resolves a single title through the batch pipeline
func (c *Categorizer) Categorize(ctx context.Context, title string) (*EnrichedRecord, error) {
	batch, err := c.CategorizeBatch(ctx, []Product{{Title: title}})
	if err != nil {
		return nil, err
	}
	if len(batch.Errors) > 0 {
		return nil, batch.Errors[0].Err
	}
	return &batch.Records[0], nil
}

// embed fills in embeddings for states, in one batched call
func (c *Categorizer) embed(ctx context.Context, states []*keyState) error {
	if len(states) == 0 {
		return nil
	}
	texts := make([]string, len(states))
	for i, s := range states {
		texts[i] = s.key
	}

	vectors, err := c.embedder.Embed(ctx, texts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("batch canceled: %w", ctxErr)
		}
		c.log.Error("embedding failed", "texts", len(texts), "error", err)
		return fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	for i, s := range states {
		s.embedding = vectors[i]
	}
	return nil
}

// store caches a resolved result. Failures only cost a future cache hit.
func (c *Categorizer) store(ctx context.Context, s *keyState) {
	if s.result.Method == types.MethodFallback || len(s.embedding) == 0 {
		return
	}
	if _, err := c.cache.Insert(context.WithoutCancel(ctx), s.key, s.embedding, s.result); err != nil {
		c.log.Warn("failed to cache result", "key", s.key, "error", err)
	}
}

// resolveWithModel sends pending keys to the model through a bounded worker pool. It
// stops dispatching when ctx is canceled and returns the cancellation.
func (c *Categorizer) resolveWithModel(ctx context.Context, pending []*keyState) error {
	if len(pending) == 0 {
		return nil
	}

	var (
		g    errgroup.Group
		done atomic.Int64
	)
	if c.maxConcurrency > 0 {
		g.SetLimit(c.maxConcurrency)
	}
	for _, s := range pending {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			c.resolveOne(ctx, s)
			c.report(Progress{Stage: StageModel, Done: int(done.Add(1)), Total: len(pending)})
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("batch canceled: %w", err)
	}
	return nil
}

// resolveOne resolves one key with the model. Concurrent callers for the same key share
// a single request, and a key cached by an earlier request is not sent again. A caller
// whose shared request was canceled by another caller asks again with its own context.
func (c *Categorizer) resolveOne(ctx context.Context, s *keyState) {
	for {
		ran := false
		v, err, shared := c.flight.Do(s.key, func() (any, error) {
			ran = true
			if _, ok := c.cache.Get(s.key); ok {
				if hit, ok := c.cache.LookupExact(ctx, s.key); ok {
					return llmcat.Outcome{Result: hit.Result}, nil
				}
			}

			out, err := c.llm.Categorize(ctx, s.title)
			if err != nil {
				return nil, err
			}
			c.store(ctx, &keyState{key: s.key, result: out.Result, embedding: s.embedding})
			return out, nil
		})
		if shared {
			c.shared.Add(1)
		}
		if err != nil && !ran && ctx.Err() == nil && isCanceled(err) {
			continue
		}
		if err != nil {
			s.err = err
			return
		}

		out := v.(llmcat.Outcome)
		s.result, s.resolved = out.Result, true
		s.permanent, s.cause = out.Permanent, out.Cause
		return
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Categorizer) report(p Progress) {
	if c.progress == nil {
		return
	}
	c.progressLock.Lock()
	defer c.progressLock.Unlock()
	c.progress(p)
}

func summarize(batch *BatchResult, scored confidence.Summary, total, unique int) BatchSummary {
	s := BatchSummary{
		Total:          total,
		Resolved:       len(batch.Records),
		Failed:         len(batch.Errors),
		ByMethod:       make(map[types.Method]int),
		Attempts:       make(map[int]int),
		UniqueKeys:     unique,
		NeedsReview:    scored.NeedsReview,
		Clusters:       len(scored.Clusters),
		Noise:          scored.Noise,
		ClusterDetails: scored.Clusters,
		MeanConfidence: scored.MeanScore,
	}
	for _, r := range batch.Records {
		s.ByMethod[r.Method]++
		s.Attempts[r.Attempts]++
	}
	return s
}

func (c *Categorizer) begin() error {
	c.closeLock.RLock()
	defer c.closeLock.RUnlock()
	if c.closing {
		return ErrClosed
	}
	c.running.Add(1)
	return nil
}

// Close waits for running batches and closes the cache if the Categorizer created it.
// It's safe to call Close multiple times.
func (c *Categorizer) Close() error {
	var closeErr error

	c.shutdownOnce.Do(func() {
		c.closeLock.Lock()
		c.closing = true
		c.closeLock.Unlock()

		c.running.Wait()

		if c.ownsCache {
			closeErr = c.cache.Close()
		}
	})

	return closeErr
}

// GetMetrics returns current categorization metrics
func (c *Categorizer) GetMetrics() Metrics {
	c.metricsLock.RLock()
	defer c.metricsLock.RUnlock()

	var cacheHitRate float32
	if c.categorized > 0 {
		cacheHitRate = float32(c.cacheHits) / float32(c.categorized) * 100
	}

	byMethod := make(map[types.Method]int64, len(c.byMethod))
	for m, n := range c.byMethod {
		byMethod[m] = n
	}

	return Metrics{
		Categorized:    c.categorized,
		ByMethod:       byMethod,
		CacheHitRate:   cacheHitRate,
		SharedRequests: c.shared.Load(),
		Failed:         c.failed,
		Batches:        c.batches,
		Model:          c.llm.Stats(),
		Cache:          c.cache.Stats(),
	}
}

// recordBatch records a finished batch for metrics
func (c *Categorizer) recordBatch(batch *BatchResult) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	c.batches++
	c.failed += int64(len(batch.Errors))
	for _, r := range batch.Records {
		c.categorized++
		c.byMethod[r.Method]++
		if r.Method == types.MethodCacheExact || r.Method == types.MethodCacheSimilar {
			c.cacheHits++
		}
	}
}
