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

// Sentinel errors surfaced by the atomic join/cancel transactions.
// Services translate these into the API error taxonomy.
var (
	ErrCapacityFull          = errors.New("event volunteer capacity reached")
	ErrDuplicateRegistration = errors.New("registration already exists for event and volunteer")
)

// RegistrationRepository handles persistence of event registrations.
type RegistrationRepository struct {
	db *sqlx.DB
}

// NewRegistrationRepository constructs the repository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

const registrationColumns = `id, event_id, volunteer_id, status, joined_at, approved_at, rejection_reason,
        certificate_url, certificate_issued_at`

const registrationDetailSelect = `SELECT r.id, r.event_id, r.volunteer_id, r.status, r.joined_at, r.approved_at,
        r.rejection_reason, r.certificate_url, r.certificate_issued_at,
        e.title AS event_title, e.start_at AS event_start_at, e.status AS event_status, e.organizer_id,
        o.full_name AS organizer_name,
        v.full_name AS volunteer_name, v.email AS volunteer_email
        FROM event_registrations r
        JOIN events e ON e.id = r.event_id
        JOIN users o ON o.id = e.organizer_id
        JOIN users v ON v.id = r.volunteer_id`

// FindByID returns a registration by its ID.
func (r *RegistrationRepository) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	query := fmt.Sprintf(`SELECT %s FROM event_registrations WHERE id = $1`, registrationColumns)
	var reg models.Registration
	if err := r.db.GetContext(ctx, &reg, query, id); err != nil {
		return nil, err
	}
	return &reg, nil
}

// FindDetailByID returns a registration joined with event and volunteer info.
func (r *RegistrationRepository) FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	query := registrationDetailSelect + ` WHERE r.id = $1`
	var detail models.RegistrationDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Exists checks whether any registration exists for the pair.
func (r *RegistrationRepository) Exists(ctx context.Context, eventID, volunteerID string) (bool, error) {
	const query = `SELECT 1 FROM event_registrations WHERE event_id = $1 AND volunteer_id = $2 LIMIT 1`
	var one int
	if err := r.db.GetContext(ctx, &one, query, eventID, volunteerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check registration exists: %w", err)
	}
	return true, nil
}

// Join creates a pending registration and claims one volunteer slot in a
// single transaction. The conditional UPDATE takes the event row lock, so
// concurrent joins at the last free slot serialize: exactly one increments
// the counter, the rest see ErrCapacityFull. The unique index on
// (event_id, volunteer_id) backs the ON CONFLICT duplicate guard.
func (r *RegistrationRepository) Join(ctx context.Context, eventID, volunteerID string) (*models.Registration, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin join: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const claimSlot = `UPDATE events SET current_volunteers = current_volunteers + 1, updated_at = $2
        WHERE id = $1 AND current_volunteers < required_volunteers
        RETURNING current_volunteers`
	now := time.Now().UTC()
	var claimed int
	if err := tx.QueryRowxContext(ctx, claimSlot, eventID, now).Scan(&claimed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCapacityFull
		}
		return nil, fmt.Errorf("claim volunteer slot: %w", err)
	}

	reg := &models.Registration{
		ID:          uuid.NewString(),
		EventID:     eventID,
		VolunteerID: volunteerID,
		Status:      models.RegistrationStatusPending,
		JoinedAt:    now,
	}
	const insert = `INSERT INTO event_registrations (id, event_id, volunteer_id, status, joined_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (event_id, volunteer_id) DO NOTHING
        RETURNING id`
	var insertedID string
	if err := tx.QueryRowxContext(ctx, insert, reg.ID, reg.EventID, reg.VolunteerID, reg.Status, reg.JoinedAt).Scan(&insertedID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDuplicateRegistration
		}
		return nil, fmt.Errorf("insert registration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit join: %w", err)
	}
	committed = true
	return reg, nil
}

// CancelAndRelease deletes a registration and, when it still occupied a
// slot, gives the slot back to the event in the same transaction. The
// counter is floored at zero. Returns the status the row held before
// deletion.
func (r *RegistrationRepository) CancelAndRelease(ctx context.Context, id string) (models.RegistrationStatus, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin cancel: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const remove = `DELETE FROM event_registrations WHERE id = $1 RETURNING event_id, status`
	var eventID string
	var status models.RegistrationStatus
	if err := tx.QueryRowxContext(ctx, remove, id).Scan(&eventID, &status); err != nil {
		return "", err
	}

	if status.CountsTowardCapacity() {
		const release = `UPDATE events SET current_volunteers = GREATEST(current_volunteers - 1, 0), updated_at = $2
            WHERE id = $1`
		if _, err := tx.ExecContext(ctx, release, eventID, time.Now().UTC()); err != nil {
			return "", fmt.Errorf("release volunteer slot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit cancel: %w", err)
	}
	committed = true
	return status, nil
}

// UpdateStatus moves a registration to a new status with optional
// approval timestamp and rejection reason.
func (r *RegistrationRepository) UpdateStatus(ctx context.Context, id string, status models.RegistrationStatus, approvedAt *time.Time, rejectionReason *string) error {
	const query = `UPDATE event_registrations SET status = $2,
        approved_at = COALESCE($3, approved_at),
        rejection_reason = COALESCE($4, rejection_reason)
        WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, approvedAt, rejectionReason); err != nil {
		return fmt.Errorf("update registration status: %w", err)
	}
	return nil
}

// SetCertificate records the issued certificate, overwriting any prior one.
func (r *RegistrationRepository) SetCertificate(ctx context.Context, id, url string, issuedAt time.Time) error {
	const query = `UPDATE event_registrations SET certificate_url = $2, certificate_issued_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, url, issuedAt); err != nil {
		return fmt.Errorf("set certificate: %w", err)
	}
	return nil
}

// ListByEvent returns all registrations for one event.
func (r *RegistrationRepository) ListByEvent(ctx context.Context, eventID string) ([]models.RegistrationDetail, error) {
	query := registrationDetailSelect + ` WHERE r.event_id = $1 ORDER BY r.joined_at`
	var regs []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &regs, query, eventID); err != nil {
		return nil, fmt.Errorf("list event registrations: %w", err)
	}
	return regs, nil
}

// ListByEventAndStatuses returns the event's registrations in any of the
// given statuses; used for transition fan-out.
func (r *RegistrationRepository) ListByEventAndStatuses(ctx context.Context, eventID string, statuses []models.RegistrationStatus) ([]models.RegistrationDetail, error) {
	query, args, err := sqlx.In(registrationDetailSelect+` WHERE r.event_id = ? AND r.status IN (?)`, eventID, statuses)
	if err != nil {
		return nil, fmt.Errorf("build registration status query: %w", err)
	}
	query = r.db.Rebind(query)
	var regs []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &regs, query, args...); err != nil {
		return nil, fmt.Errorf("list registrations by status: %w", err)
	}
	return regs, nil
}

// ListByVolunteer returns a volunteer's registration history.
func (r *RegistrationRepository) ListByVolunteer(ctx context.Context, volunteerID string) ([]models.RegistrationDetail, error) {
	query := registrationDetailSelect + ` WHERE r.volunteer_id = $1 ORDER BY r.joined_at DESC`
	var regs []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &regs, query, volunteerID); err != nil {
		return nil, fmt.Errorf("list volunteer registrations: %w", err)
	}
	return regs, nil
}

// ListPendingByOrganizer returns pending join requests across all of an
// organizer's events.
func (r *RegistrationRepository) ListPendingByOrganizer(ctx context.Context, organizerID string) ([]models.RegistrationDetail, error) {
	query := registrationDetailSelect + ` WHERE e.organizer_id = $1 AND r.status = $2 ORDER BY r.joined_at`
	var regs []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &regs, query, organizerID, models.RegistrationStatusPending); err != nil {
		return nil, fmt.Errorf("list pending registrations: %w", err)
	}
	return regs, nil
}
