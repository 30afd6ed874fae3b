package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"repufi/config"
	"repufi/db"
	"repufi/fetcher"
	"repufi/github"
	"repufi/httpretry"
	"repufi/logger"
	"repufi/scorer"
)

const shutdownTimeout = 10 * time.Second

// Service errors
var (
	ErrServiceInit     = fmt.Errorf("service initialization error")
	ErrServiceShutdown = fmt.Errorf("service shutdown error")
)

// Service represents the main application service
type Service struct {
	config   *config.Config
	database *db.DB
	scores   *ScoreService
}

// NewService wires the GitHub client, fetcher, scorer and the optional
// history store from cfg.
func NewService(cfg *config.Config) (*Service, error) {
	client, err := github.NewClient(github.Config{
		Token:   cfg.GitHubToken,
		BaseURL: cfg.GitHubAPIURL,
		Timeout: cfg.HTTPTimeout,
		Retry: httpretry.Policy{
			Attempts:        cfg.RetryAttempts,
			BaseDelay:       cfg.RetryBaseDelay,
			RateLimitBuffer: cfg.RateLimitBuffer,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create GitHub client: %v", ErrServiceInit, err)
	}

	sc, err := scorer.New(cfg.Scoring)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceInit, err)
	}

	f := fetcher.New(client, fetcher.Options{
		CommitScanRepos: cfg.CommitScanRepos,
		CommitWindow:    cfg.CommitWindow,
	})

	s := &Service{config: cfg}

	var store ScoreStore
	if cfg.Database.Enabled() {
		database, err := db.New(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to initialize database: %v", ErrServiceInit, err)
		}
		if err := database.EnsureSchema(context.Background()); err != nil {
			database.Close()
			return nil, fmt.Errorf("%w: %v", ErrServiceInit, err)
		}
		s.database = database
		store = database
	} else {
		logger.Info("Score history disabled, no database configured")
	}

	s.scores = NewScoreService(f, sc, store, cfg.ScoreOverrides)

	logger.Info("Service initialized successfully",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.Bool("history", s.database != nil),
		zap.Int("score_overrides", len(cfg.ScoreOverrides)),
		zap.Duration("refresh_interval", cfg.RefreshInterval))

	return s, nil
}

// Scores exposes the scoring service, used by the CLI.
func (s *Service) Scores() *ScoreService {
	return s.scores
}

// Run serves the HTTP API and the background refresh until ctx is done,
// then shuts the server down gracefully.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Service) serve(ctx context.Context, ln net.Listener) error {
	runCtx, cancel := context.WithCancel(ctx)
	monitorDone := s.startMonitoring(runCtx)
	defer func() {
		cancel()
		<-monitorDone
	}()

	server := &http.Server{
		Handler:           NewRouter(s.scores),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return runCtx },
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
		serveErr <- server.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutdown signal received, initiating graceful shutdown")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%w: %v", ErrServiceShutdown, err)
	}
	return nil
}

// startMonitoring starts the background re-scoring of stale users. The
// returned channel is closed when it has stopped, or at once when disabled.
func (s *Service) startMonitoring(ctx context.Context) <-chan struct{} {
	if s.database == nil || s.config.RefreshInterval <= 0 {
		done := make(chan struct{})
		close(done)
		return done
	}

	logger.Info("Starting score refresh",
		zap.Duration("interval", s.config.RefreshInterval),
		zap.Duration("max_age", s.config.RefreshMaxAge))

	return s.database.MonitorStaleScores(ctx, s.config.RefreshInterval, s.config.RefreshMaxAge, s.scores.Refresh)
}

// Close performs cleanup operations
func (s *Service) Close() error {
	logger.Info("Closing service")
	if s.database == nil {
		return nil
	}
	if err := s.database.Close(); err != nil {
		return fmt.Errorf("%w: failed to close database: %v", ErrServiceShutdown, err)
	}
	return nil
}
