package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/order-transcriber/internal/models"
)

// ErrRunNotFound is returned when no run carries the requested run ID
var ErrRunNotFound = errors.New("run not found")

const defaultListLimit = 50

// RunRepository handles run history database operations
type RunRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *sql.DB, logger *zap.Logger) *RunRepository {
	return &RunRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a run in the RUNNING state
func (r *RunRepository) Create(ctx context.Context, run *models.RunRecord) error {
	query := `
		INSERT INTO runs (
			run_id, partner, command, status, template_path, output_path, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, query,
		run.RunID,
		run.Partner,
		run.Command,
		run.Status,
		run.TemplatePath,
		run.OutputPath,
		run.StartedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create run record", zap.String("run_id", run.RunID), zap.Error(err))
		return fmt.Errorf("failed to create run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	run.ID = id
	return nil
}

// Complete stores the outcome of a run together with its validation checks
func (r *RunRepository) Complete(ctx context.Context, run *models.RunRecord, checks []models.ValidationCheck) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE runs SET
			status = ?, output_path = ?, order_pdf_path = ?, inspection_pdf_path = ?,
			issue_date = ?, validation_passed = ?, error_kind = ?, error_message = ?,
			result_json = ?, finished_at = ?
		WHERE run_id = ?
	`
	var validation sql.NullBool
	if run.ValidationPassed != nil {
		validation = sql.NullBool{Bool: *run.ValidationPassed, Valid: true}
	}
	result, err := tx.ExecContext(ctx, query,
		run.Status,
		run.OutputPath,
		run.OrderPDFPath,
		run.InspectionPDFPath,
		run.IssueDate,
		validation,
		run.ErrorKind,
		run.ErrorMessage,
		run.ResultJSON,
		run.FinishedAt,
		run.RunID,
	)
	if err != nil {
		r.logger.Error("Failed to complete run record", zap.String("run_id", run.RunID), zap.Error(err))
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.RunID)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM run_checks WHERE run_id = ?", run.RunID); err != nil {
		return fmt.Errorf("failed to clear run checks: %w", err)
	}
	for i, c := range checks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_checks (run_id, position, sheet, cell, item, expected, actual, passed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, run.RunID, i, c.Sheet, c.Cell, c.Item, c.Expected, c.Actual, c.Passed)
		if err != nil {
			return fmt.Errorf("failed to store run check: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

const runColumns = `
	id, run_id, partner, command, status, template_path, output_path, order_pdf_path,
	inspection_pdf_path, issue_date, validation_passed, error_kind, error_message,
	result_json, started_at, finished_at
`

// GetByRunID retrieves a run by its run ID
func (r *RunRepository) GetByRunID(ctx context.Context, runID string) (*models.RunRecord, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE run_id = ?", runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		r.logger.Error("Failed to get run", zap.String("run_id", runID), zap.Error(err))
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// Checks returns the stored validation checks of a run in report order
func (r *RunRepository) Checks(ctx context.Context, runID string) ([]models.ValidationCheck, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sheet, cell, item, expected, actual, passed
		FROM run_checks WHERE run_id = ? ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run checks: %w", err)
	}
	defer rows.Close()

	checks := []models.ValidationCheck{}
	for rows.Next() {
		var c models.ValidationCheck
		if err := rows.Scan(&c.Sheet, &c.Cell, &c.Item, &c.Expected, &c.Actual, &c.Passed); err != nil {
			return nil, fmt.Errorf("failed to scan run check: %w", err)
		}
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

// List returns runs newest first
func (r *RunRepository) List(ctx context.Context, filter models.RunFilter) ([]*models.RunRecord, error) {
	var where []string
	var args []interface{}
	if filter.Partner != "" {
		where = append(where, "partner = ?")
		args = append(args, filter.Partner)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := "SELECT " + runColumns + " FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list runs", zap.Error(err))
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*models.RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*models.RunRecord, error) {
	var run models.RunRecord
	var validation sql.NullBool
	var finished sql.NullTime
	err := s.Scan(
		&run.ID,
		&run.RunID,
		&run.Partner,
		&run.Command,
		&run.Status,
		&run.TemplatePath,
		&run.OutputPath,
		&run.OrderPDFPath,
		&run.InspectionPDFPath,
		&run.IssueDate,
		&validation,
		&run.ErrorKind,
		&run.ErrorMessage,
		&run.ResultJSON,
		&run.StartedAt,
		&finished,
	)
	if err != nil {
		return nil, err
	}
	if validation.Valid {
		v := validation.Bool
		run.ValidationPassed = &v
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}
