package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anqxyr/pyscp/internal/config"
	"github.com/anqxyr/pyscp/internal/dispatch"
	"github.com/anqxyr/pyscp/internal/progress"
	"github.com/anqxyr/pyscp/internal/progress/sinks"
	"github.com/anqxyr/pyscp/internal/server"
	"github.com/anqxyr/pyscp/internal/snapshot"
	"github.com/anqxyr/pyscp/internal/store"
	"github.com/anqxyr/pyscp/internal/wiki"
	"github.com/anqxyr/pyscp/internal/wikidot"
)

func snapshotCmd(flags *rootFlags) *cobra.Command {
	var (
		forums  bool
		author  string
		tag     string
		noServe bool
	)
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Crawl the site and write a snapshot file",
		Long: `Enumerates every page of the site and saves page content, revision
history, votes, and comments into a single snapshot file. Interrupted or
partially failed runs resume where they left off when re-run against the
same file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if forums {
				cfg.Snapshot.Forums = true
			}
			filter := wiki.ListFilter{Author: author, Tag: tag}
			return runSnapshot(cmd.Context(), cfg, filter, noServe)
		},
	}
	cmd.Flags().BoolVar(&forums, "forums", false, "include forum threads")
	cmd.Flags().StringVar(&author, "author", "", "only pages created by this user")
	cmd.Flags().StringVar(&tag, "tag", "", "only pages carrying this tag")
	cmd.Flags().BoolVar(&noServe, "no-serve", false, "disable the status/metrics listener")
	return cmd
}

func runSnapshot(parent context.Context, cfg config.Config, filter wiki.ListFilter, noServe bool) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	client, err := wikidot.New(cfg.Site, wikidot.Config{
		Timeout:   cfg.Crawler.RequestTimeout(),
		UserAgent: cfg.Crawler.UserAgent,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Snapshot.Path, store.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return err
	}
	hub := progress.NewHub(progress.Config{Logger: logger},
		sinks.NewLogSink(logger), promSink)

	creator, err := snapshot.NewCreator(snapshot.Options{
		Site:   client.Site(),
		Client: client,
		Store:  st,
		Dispatcher: dispatch.New(dispatch.Config{
			Concurrency: cfg.Crawler.Concurrency,
			MinDelay:    cfg.Crawler.MinDelay(),
			MaxRetries:  cfg.Crawler.MaxRetries,
			BaseDelay:   cfg.Crawler.RetryBaseDelay(),
			MaxDelay:    cfg.Crawler.RetryMaxDelay(),
			Logger:      logger,
		}),
		Workers:  cfg.Crawler.Concurrency,
		Filter:   filter,
		Forums:   cfg.Snapshot.Forums,
		Progress: hub,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	// First signal stops scheduling and lets in-flight pages persist;
	// a second one aborts outright.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("stop requested, finishing in-flight pages")
			creator.Stop()
		case <-ctx.Done():
			return
		}
		select {
		case <-sigCh:
			logger.Warn("second signal, aborting")
			cancel()
		case <-ctx.Done():
		}
	}()

	var srv *http.Server
	if !noServe {
		status := func() server.Status {
			enumerated, completed, failed := creator.Counts()
			return server.Status{
				Site:       client.Site(),
				Running:    creator.Running(),
				Enumerated: enumerated,
				Completed:  completed,
				Failed:     failed,
				Dropped:    hub.Dropped(),
			}
		}
		srv = &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           server.New(reg, status, logger).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server failed", zap.Error(err))
			}
		}()
	}

	logger.Info("snapshot starting",
		zap.String("site", client.Site()),
		zap.String("path", st.Path()))
	summary, runErr := creator.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown", zap.Error(err))
		}
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Warn("progress hub close", zap.Error(err))
	}

	fmt.Printf("pages: %d enumerated, %d completed, %d skipped, %d failed",
		summary.Enumerated, summary.Completed, summary.Skipped, summary.Failed)
	if summary.Threads > 0 {
		fmt.Printf(", %d threads", summary.Threads)
	}
	fmt.Printf(" in %s\n", summary.Elapsed.Round(time.Second))
	for url, reason := range summary.Failures {
		fmt.Printf("  failed %s: %s\n", url, reason)
	}
	return runErr
}
