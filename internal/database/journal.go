package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kamilpajak/opsdiag/pkg/models"
)

// FeedbackSubmission is an accepted feedback submission.
type FeedbackSubmission struct {
	ID              uuid.UUID           `json:"id"`
	RecordID        int64               `json:"record_id"`
	FeedbackType    models.FeedbackType `json:"feedback_type"`
	FeedbackNotes   string              `json:"feedback_notes,omitempty"`
	ActionTaken     string              `json:"action_taken,omitempty"`
	IterationNo     int                 `json:"iteration_no,omitempty"`
	ResultingStatus models.Status       `json:"resulting_status"`
	CreatedAt       time.Time           `json:"created_at"`
}

// StatusTransition is a status change observed by a list refresh.
type StatusTransition struct {
	ID         uuid.UUID     `json:"id"`
	RecordID   int64         `json:"record_id"`
	From       models.Status `json:"from"`
	To         models.Status `json:"to"`
	ObservedAt time.Time     `json:"observed_at"`
}

const defaultHistoryLimit = 50

const feedbackColumns = `id, record_id, feedback_type, feedback_notes, action_taken, iteration_no, resulting_status, created_at`

const transitionColumns = `id, record_id, from_status, to_status, observed_at`

// RecordFeedback stores an accepted submission together with the status the
// backend returned for it.
func (db *DB) RecordFeedback(ctx context.Context, recordID int64, req models.FeedbackRequest, status models.Status) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO feedback_submissions (`+feedbackColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		uuid.New(), recordID, string(req.FeedbackType), req.FeedbackNotes, req.ActionTaken, req.IterationNo, string(status),
	)
	return err
}

// ListFeedback returns the submissions of a record, newest first.
func (db *DB) ListFeedback(ctx context.Context, recordID int64, limit int) ([]FeedbackSubmission, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+feedbackColumns+` FROM feedback_submissions
		 WHERE record_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		recordID, limit,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (FeedbackSubmission, error) {
		var s FeedbackSubmission
		var feedbackType, status string
		err := row.Scan(&s.ID, &s.RecordID, &feedbackType, &s.FeedbackNotes, &s.ActionTaken,
			&s.IterationNo, &status, &s.CreatedAt)
		s.FeedbackType = models.FeedbackType(feedbackType)
		s.ResultingStatus = models.Status(status)
		return s, err
	})
}

// RecordTransition stores an observed status change.
func (db *DB) RecordTransition(ctx context.Context, recordID int64, from, to models.Status) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO status_transitions (`+transitionColumns+`)
		 VALUES ($1, $2, $3, $4, now())`,
		uuid.New(), recordID, string(from), string(to),
	)
	return err
}

// ListTransitions returns the observed status changes of a record, newest first.
func (db *DB) ListTransitions(ctx context.Context, recordID int64, limit int) ([]StatusTransition, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+transitionColumns+` FROM status_transitions
		 WHERE record_id = $1
		 ORDER BY observed_at DESC
		 LIMIT $2`,
		recordID, limit,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (StatusTransition, error) {
		var t StatusTransition
		var from, to string
		err := row.Scan(&t.ID, &t.RecordID, &from, &to, &t.ObservedAt)
		t.From = models.Status(from)
		t.To = models.Status(to)
		return t, err
	})
}
