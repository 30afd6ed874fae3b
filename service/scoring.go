package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"repufi/db"
	"repufi/logger"
	"repufi/models"
	"repufi/scorer"
)

var (
	ErrInvalidUsername = errors.New("username is required and must be a single path segment")
	ErrHistoryDisabled = errors.New("score history is not enabled")
)

// Characters that would change the request path or query. GitHub decides
// whether anything else is a login.
const pathBreaking = "/?#\\"

// FetcherInterface abstracts the GitHub data collection (for testability)
type FetcherInterface interface {
	Fetch(ctx context.Context, username string) (*models.GitHubData, error)
}

// ScoreStore abstracts the score history operations needed by the service
type ScoreStore interface {
	StoreScore(ctx context.Context, record models.ScoreRecord) error
	ListScores(ctx context.Context, username string, limit int) ([]models.ScoreRecord, error)
	LatestScore(ctx context.Context, username string) (*models.ScoreRecord, error)
}

// ScoreService runs fetch, score, override and record for one username.
type ScoreService struct {
	fetcher   FetcherInterface
	scorer    *scorer.Scorer
	store     ScoreStore
	overrides map[string]float64
	now       func() time.Time
}

// NewScoreService wires a ScoreService. store may be nil, which disables
// history.
func NewScoreService(fetcher FetcherInterface, s *scorer.Scorer, store ScoreStore, overrides map[string]float64) *ScoreService {
	return &ScoreService{
		fetcher:   fetcher,
		scorer:    s,
		store:     store,
		overrides: overrides,
		now:       time.Now,
	}
}

// NormalizeUsername trims username and rejects blank names and names that
// cannot be sent as one URL path segment.
func NormalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.ContainsAny(username, pathBreaking) {
		return "", ErrInvalidUsername
	}
	return username, nil
}

// Score always recomputes the score from live GitHub data.
func (s *ScoreService) Score(ctx context.Context, username string) (*models.ScoreResult, error) {
	username, err := NormalizeUsername(username)
	if err != nil {
		return nil, err
	}

	data, err := s.fetcher.Fetch(ctx, username)
	if err != nil {
		return nil, err
	}

	result := s.scorer.Score(*data, s.now())
	if override, ok := s.overrides[strings.ToLower(result.Username)]; ok {
		logger.Info("Applying configured score override",
			zap.String("username", result.Username),
			zap.Float64("computed", result.TotalScore),
			zap.Float64("override", override))
		s.scorer.Override(&result, override)
	}

	s.record(ctx, result)

	logger.Info("Computed GitHub score",
		zap.String("username", result.Username),
		zap.Float64("total_score", result.TotalScore),
		zap.String("grade", result.Grade.Letter))
	return &result, nil
}

// record stores the run; failures are logged and never reach the caller.
func (s *ScoreService) record(ctx context.Context, result models.ScoreResult) {
	if s.store == nil {
		return
	}
	rec, err := db.NewScoreRecord(result)
	if err == nil {
		err = s.store.StoreScore(ctx, rec)
	}
	if err != nil {
		logger.Warn("Failed to record score", zap.String("username", result.Username), zap.Error(err))
	}
}

// History returns previously recorded runs for username.
func (s *ScoreService) History(ctx context.Context, username string, limit int) ([]models.ScoreRecord, error) {
	if s.store == nil {
		return nil, ErrHistoryDisabled
	}
	username, err := NormalizeUsername(username)
	if err != nil {
		return nil, err
	}
	records, err := s.store.ListScores(ctx, username, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", username, err)
	}
	return records, nil
}

// Latest returns the most recent recorded run for username.
func (s *ScoreService) Latest(ctx context.Context, username string) (*models.ScoreRecord, error) {
	if s.store == nil {
		return nil, ErrHistoryDisabled
	}
	username, err := NormalizeUsername(username)
	if err != nil {
		return nil, err
	}
	return s.store.LatestScore(ctx, username)
}

// Refresh re-scores username, used by the background monitor.
func (s *ScoreService) Refresh(ctx context.Context, username string) error {
	_, err := s.Score(ctx, username)
	return err
}
