package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/volunteerhub/vms-api/internal/models"
)

// AttendanceRepository handles persistence of per-date attendance marks.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// MarkResult reports what a Mark call changed.
type MarkResult struct {
	Attendance    models.Attendance
	PointsAwarded bool
}

// Mark upserts the attendance row for (registration, date) and, when the
// date first transitions into PRESENT, flips the registration to ATTENDED
// and credits the volunteer's point balance. All three writes commit
// together. Points are awarded at most once per date: the previous row
// state is read under a row lock before the upsert.
func (r *AttendanceRepository) Mark(ctx context.Context, registrationID, volunteerID string, date time.Time, status models.AttendanceStatus, pointAward int) (*MarkResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin mark attendance: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const previous = `SELECT status FROM attendance WHERE registration_id = $1 AND date = $2 FOR UPDATE`
	var prior models.AttendanceStatus
	hadPrior := true
	if err := tx.QueryRowxContext(ctx, previous, registrationID, date).Scan(&prior); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("read prior attendance: %w", err)
		}
		hadPrior = false
	}

	now := time.Now().UTC()
	const upsert = `INSERT INTO attendance (id, registration_id, date, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $5)
        ON CONFLICT (registration_id, date)
        DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
        RETURNING id, registration_id, date, status, created_at, updated_at`
	var stored models.Attendance
	if err := tx.QueryRowxContext(ctx, upsert, uuid.NewString(), registrationID, date, status, now).StructScan(&stored); err != nil {
		return nil, fmt.Errorf("upsert attendance: %w", err)
	}

	result := &MarkResult{Attendance: stored}
	newlyPresent := status == models.AttendanceStatusPresent && (!hadPrior || prior != models.AttendanceStatusPresent)
	if newlyPresent {
		const attend = `UPDATE event_registrations SET status = $2 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, attend, registrationID, models.RegistrationStatusAttended); err != nil {
			return nil, fmt.Errorf("mark registration attended: %w", err)
		}
		const award = `UPDATE users SET points = points + $2, updated_at = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, award, volunteerID, pointAward, now); err != nil {
			return nil, fmt.Errorf("award attendance points: %w", err)
		}
		result.PointsAwarded = true
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit mark attendance: %w", err)
	}
	committed = true
	return result, nil
}

// Summary counts present and total marks for a registration.
func (r *AttendanceRepository) Summary(ctx context.Context, registrationID string) (*models.AttendanceSummary, error) {
	const query = `SELECT COUNT(*) FILTER (WHERE status = $2) AS present, COUNT(*) AS total
        FROM attendance WHERE registration_id = $1`
	var summary models.AttendanceSummary
	if err := r.db.GetContext(ctx, &summary, query, registrationID, models.AttendanceStatusPresent); err != nil {
		return nil, fmt.Errorf("summarise attendance: %w", err)
	}
	return &summary, nil
}

// ListByRegistration returns all marks for a registration ordered by date.
func (r *AttendanceRepository) ListByRegistration(ctx context.Context, registrationID string) ([]models.Attendance, error) {
	const query = `SELECT id, registration_id, date, status, created_at, updated_at
        FROM attendance WHERE registration_id = $1 ORDER BY date`
	var records []models.Attendance
	if err := r.db.SelectContext(ctx, &records, query, registrationID); err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return records, nil
}
