// Command categorize assigns marketplace listings to taxonomy categories, either for a
// dataset file or as an HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	categorizer "github.com/ryanburden/mercari-buddy"
	"github.com/ryanburden/mercari-buddy/internal/config"
	"github.com/ryanburden/mercari-buddy/internal/logger"
	"github.com/ryanburden/mercari-buddy/internal/server"
)

const defaultAddr = ":8080"

type options struct {
	configPath string
	input      string
	output     string
	dataset    datasetOptions
	serve      bool
	addr       string
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file loaded, using the process environment")
	}

	var opts options
	flag.StringVar(&opts.configPath, "config", "", "YAML config file")
	flag.StringVar(&opts.input, "input", "", "CSV or JSON file of products to categorize")
	flag.StringVar(&opts.output, "output", "", "result file (default results_<timestamp>_<id>.json)")
	flag.StringVar(&opts.dataset.TitleColumn, "title-column", defaultTitleColumn, "CSV column holding the title")
	flag.StringVar(&opts.dataset.IDColumn, "id-column", "", "CSV column holding the product id (default row number)")
	flag.IntVar(&opts.dataset.Limit, "limit", 0, "categorize at most this many products")
	flag.BoolVar(&opts.serve, "serve", false, "serve the HTTP API instead of processing -input")
	flag.StringVar(&opts.addr, "addr", "", "listen address for -serve (default server.addr or "+defaultAddr+")")
	flag.Parse()

	if !opts.serve && opts.input == "" {
		fmt.Fprintln(os.Stderr, "either -input or -serve is required")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		log.Fatal(err)
	}
}

func run(opts options) error {
	file, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	l, err := logger.New(file.Log.Mode, file.Log.Level)
	if err != nil {
		return err
	}
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, closeStore, err := file.Build(ctx, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			l.Warn("failed to close cache store", "error", err)
		}
	}()

	if !opts.serve {
		cfg.Progress = progressLogger(l)
	}

	c, err := categorizer.New(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	if opts.serve {
		addr := opts.addr
		if addr == "" {
			addr = file.Server.Addr
		}
		if addr == "" {
			addr = defaultAddr
		}
		return serve(ctx, c, addr, file.Server.MaxBatch, l)
	}
	return categorizeFile(ctx, c, opts, l)
}

func categorizeFile(ctx context.Context, c *categorizer.Categorizer, opts options, l *logger.Logger) error {
	products, err := loadProducts(opts.input, opts.dataset)
	if err != nil {
		return err
	}
	l.Info("Loaded dataset", "file", opts.input, "products", len(products))

	batch, err := c.CategorizeBatch(ctx, products)
	if err != nil {
		return err
	}
	for _, w := range batch.Warnings {
		l.Warn(w)
	}

	path, err := saveResults(opts.output, batch)
	if err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}

	s := batch.Summary
	l.Info("Batch complete",
		"batch", batch.ID,
		"resolved", s.Resolved,
		"failed", s.Failed,
		"unique_keys", s.UniqueKeys,
		"by_method", s.ByMethod,
		"clusters", s.Clusters,
		"needs_review", s.NeedsReview,
		"mean_confidence", fmt.Sprintf("%.3f", s.MeanConfidence),
		"duration", s.Duration,
		"output", path)

	m := c.GetMetrics()
	l.Info("Categorizer metrics",
		"cache_hit_rate", fmt.Sprintf("%.1f%%", m.CacheHitRate),
		"shared_requests", m.SharedRequests,
		"model_requests", m.Model.Requests)
	return nil
}

func serve(ctx context.Context, c *categorizer.Categorizer, addr string, maxBatch int, l *logger.Logger) error {
	srv := server.NewServer(server.RouterConfig{
		Handler: server.NewHandler(c, maxBatch, l),
		Logger:  l,
	})

	errCh := make(chan error, 1)
	go func() {
		l.Info("Listening", "addr", addr)
		errCh <- srv.Run(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	l.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errCh
}

// progressLogger logs each stage once when it starts and once when it completes
func progressLogger(l *logger.Logger) func(categorizer.Progress) {
	var last string
	return func(p categorizer.Progress) {
		switch {
		case p.Stage != last:
			last = p.Stage
			l.Info("Stage started", "stage", p.Stage, "total", p.Total)
		case p.Done == p.Total:
			l.Info("Stage finished", "stage", p.Stage, "total", p.Total)
		}
	}
}
