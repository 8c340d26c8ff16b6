package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/volunteerhub/vms-api/internal/models"
)

// FeedbackRepository handles persistence of registration feedback.
type FeedbackRepository struct {
	db *sqlx.DB
}

// NewFeedbackRepository constructs the repository.
func NewFeedbackRepository(db *sqlx.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

const feedbackDetailSelect = `SELECT f.id, f.registration_id, f.comment, f.rating, f.created_at, f.updated_at,
        r.volunteer_id, r.event_id, v.full_name AS volunteer_name
        FROM feedback f
        JOIN event_registrations r ON r.id = f.registration_id
        JOIN users v ON v.id = r.volunteer_id`

// Create persists a new feedback record.
func (r *FeedbackRepository) Create(ctx context.Context, feedback *models.Feedback) error {
	if feedback.ID == "" {
		feedback.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if feedback.CreatedAt.IsZero() {
		feedback.CreatedAt = now
	}
	feedback.UpdatedAt = now
	const query = `INSERT INTO feedback (id, registration_id, comment, rating, created_at, updated_at)
        VALUES (:id, :registration_id, :comment, :rating, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, feedback); err != nil {
		return fmt.Errorf("create feedback: %w", err)
	}
	return nil
}

// FindDetailByID returns feedback joined with registration ownership info.
func (r *FeedbackRepository) FindDetailByID(ctx context.Context, id string) (*models.FeedbackDetail, error) {
	query := feedbackDetailSelect + ` WHERE f.id = $1`
	var detail models.FeedbackDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Update replaces comment and rating.
func (r *FeedbackRepository) Update(ctx context.Context, id, comment string, rating int) error {
	const query = `UPDATE feedback SET comment = $2, rating = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, comment, rating, time.Now().UTC()); err != nil {
		return fmt.Errorf("update feedback: %w", err)
	}
	return nil
}

// Delete removes a feedback record.
func (r *FeedbackRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM feedback WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete feedback: %w", err)
	}
	return nil
}

// ListByEvent returns every feedback entry for one event.
func (r *FeedbackRepository) ListByEvent(ctx context.Context, eventID string) ([]models.FeedbackDetail, error) {
	query := feedbackDetailSelect + ` WHERE r.event_id = $1 ORDER BY f.created_at DESC`
	var entries []models.FeedbackDetail
	if err := r.db.SelectContext(ctx, &entries, query, eventID); err != nil {
		return nil, fmt.Errorf("list event feedback: %w", err)
	}
	return entries, nil
}
