package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"repufi/logger"
	"repufi/models"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// NewScoreRecord converts a scoring result into a history row.
func NewScoreRecord(result models.ScoreResult) (models.ScoreRecord, error) {
	breakdown, err := json.Marshal(result.Breakdown)
	if err != nil {
		return models.ScoreRecord{}, fmt.Errorf("failed to encode breakdown: %w", err)
	}
	details, err := json.Marshal(result.Details)
	if err != nil {
		return models.ScoreRecord{}, fmt.Errorf("failed to encode details: %w", err)
	}
	return models.ScoreRecord{
		ID:         uuid.New(),
		Username:   normalize(result.Username),
		TotalScore: result.TotalScore,
		Breakdown:  breakdown,
		Details:    details,
		Overridden: result.Overridden,
		ComputedAt: result.ComputedAt,
	}, nil
}

func normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// StoreScore inserts a scoring run and marks the user as tracked for
// background refresh, in one transaction.
func (db *DB) StoreScore(ctx context.Context, record models.ScoreRecord) error {
	if record.Username == "" {
		return fmt.Errorf("%w: username cannot be empty", ErrInvalidInput)
	}
	if record.ID == uuid.Nil {
		return fmt.Errorf("%w: record id cannot be empty", ErrInvalidInput)
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO score_runs (id, username, total_score, breakdown, details, overridden, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID, record.Username, record.TotalScore,
		record.Breakdown, record.Details, record.Overridden, record.ComputedAt,
	); err != nil {
		return fmt.Errorf("failed to insert score run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tracked_users (username, last_computed)
		VALUES ($1, $2)
		ON CONFLICT (username) DO UPDATE SET
			last_computed = GREATEST(tracked_users.last_computed, EXCLUDED.last_computed)`,
		record.Username, record.ComputedAt,
	); err != nil {
		return fmt.Errorf("failed to track user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %v", ErrTransactionFailed, err)
	}

	logger.Debug("Score stored",
		zap.String("username", record.Username),
		zap.String("id", record.ID.String()),
		zap.Float64("total_score", record.TotalScore))
	return nil
}

// ListScores returns the most recent runs for username, newest first.
func (db *DB) ListScores(ctx context.Context, username string, limit int) ([]models.ScoreRecord, error) {
	username = normalize(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username cannot be empty", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	stmt, err := db.getStmt(ctx, `
		SELECT id, username, total_score, breakdown, details, overridden, computed_at
		FROM score_runs
		WHERE username = $1
		ORDER BY computed_at DESC
		LIMIT $2`)
	if err != nil {
		return nil, err
	}

	records := []models.ScoreRecord{}
	if err := stmt.SelectContext(ctx, &records, username, limit); err != nil {
		return nil, fmt.Errorf("failed to list scores for %s: %w", username, err)
	}
	return records, nil
}

// LatestScore returns the newest run for username.
func (db *DB) LatestScore(ctx context.Context, username string) (*models.ScoreRecord, error) {
	username = normalize(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username cannot be empty", ErrInvalidInput)
	}

	var record models.ScoreRecord
	query := `
		SELECT id, username, total_score, breakdown, details, overridden, computed_at
		FROM score_runs
		WHERE username = $1
		ORDER BY computed_at DESC
		LIMIT 1
	`
	if err := db.conn.GetContext(ctx, &record, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrScoreNotFound, username)
		}
		return nil, fmt.Errorf("failed to get latest score for %s: %w", username, err)
	}
	return &record, nil
}

// StaleUsers lists tracked users whose last score was computed before cutoff,
// oldest first.
func (db *DB) StaleUsers(ctx context.Context, cutoff time.Time) ([]models.StaleUser, error) {
	users := []models.StaleUser{}
	query := `
		SELECT username, last_computed
		FROM tracked_users
		WHERE last_computed < $1
		ORDER BY last_computed ASC
	`
	if err := db.conn.SelectContext(ctx, &users, query, cutoff); err != nil {
		return nil, fmt.Errorf("failed to fetch stale users: %w", err)
	}
	return users, nil
}
