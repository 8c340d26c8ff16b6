package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/volunteerhub/vms-api/internal/models"
	"github.com/volunteerhub/vms-api/internal/repository"
	appErrors "github.com/volunteerhub/vms-api/pkg/errors"
)

type registrationRepository interface {
	FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error)
	Exists(ctx context.Context, eventID, volunteerID string) (bool, error)
	Join(ctx context.Context, eventID, volunteerID string) (*models.Registration, error)
	CancelAndRelease(ctx context.Context, id string) (models.RegistrationStatus, error)
	UpdateStatus(ctx context.Context, id string, status models.RegistrationStatus, approvedAt *time.Time, rejectionReason *string) error
	ListByEvent(ctx context.Context, eventID string) ([]models.RegistrationDetail, error)
	ListByVolunteer(ctx context.Context, volunteerID string) ([]models.RegistrationDetail, error)
	ListPendingByOrganizer(ctx context.Context, organizerID string) ([]models.RegistrationDetail, error)
}

type eventReader interface {
	FindByID(ctx context.Context, id string) (*models.Event, error)
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// RejectRegistrationRequest carries the optional rejection reason.
type RejectRegistrationRequest struct {
	Reason string `json:"reason"`
}

// RegistrationService owns the capacity-gated join flow and the
// per-registration status transitions.
type RegistrationService struct {
	repo      registrationRepository
	events    eventReader
	users     userReader
	notifier  notificationSink
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRegistrationService constructs RegistrationService.
func NewRegistrationService(repo registrationRepository, events eventReader, users userReader, notifier notificationSink, validate *validator.Validate, logger *zap.Logger) *RegistrationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationService{repo: repo, events: events, users: users, notifier: notifier, validator: validate, logger: logger}
}

// Join applies a volunteer to an event. Checks run in a fixed order:
// existence, duplicate registration, event status, registration window,
// then capacity. The capacity claim and the uniqueness guard execute
// inside a single store transaction so concurrent joins at the last free
// slot cannot both succeed.
func (s *RegistrationService) Join(ctx context.Context, eventID, volunteerID string) (*models.Registration, error) {
	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load event")
	}
	volunteer, err := s.users.FindByID(ctx, volunteerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "volunteer not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load volunteer")
	}

	exists, err := s.repo.Exists(ctx, eventID, volunteerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check registration")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrAlreadyRegistered, "")
	}

	if event.Status != models.EventStatusPublished {
		return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition, "event is not open for registration")
	}

	now := time.Now().UTC()
	if event.RegistrationOpenAt != nil && now.Before(*event.RegistrationOpenAt) {
		return nil, appErrors.Clone(appErrors.ErrRegistrationClosed, "registration has not opened yet")
	}
	if event.RegistrationCloseAt != nil && now.After(*event.RegistrationCloseAt) {
		return nil, appErrors.Clone(appErrors.ErrRegistrationClosed, "")
	}

	reg, err := s.repo.Join(ctx, eventID, volunteerID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrCapacityFull):
			return nil, appErrors.Clone(appErrors.ErrCapacityExceeded, "")
		case errors.Is(err, repository.ErrDuplicateRegistration):
			return nil, appErrors.Clone(appErrors.ErrAlreadyRegistered, "")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register for event")
		}
	}

	s.notifier.Notify(ctx, event.OrganizerID, "New volunteer registration",
		fmt.Sprintf("%s applied to volunteer at %q.", volunteer.FullName, event.Title), models.NotificationInfo)
	s.notifier.Notify(ctx, volunteerID, "Registration received",
		fmt.Sprintf("Your application for %q is pending organizer review.", event.Title), models.NotificationSuccess)
	s.notifier.SendEmail(volunteer.Email, "Registration received",
		fmt.Sprintf("Your application for %q is pending organizer review.", event.Title))

	s.logger.Info("volunteer joined event",
		zap.String("registration_id", reg.ID),
		zap.String("event_id", eventID),
		zap.String("volunteer_id", volunteerID))
	return reg, nil
}

// Approve confirms a pending registration. Event organizer or admin.
func (s *RegistrationService) Approve(ctx context.Context, registrationID string, actor *models.JWTClaims) (*models.RegistrationDetail, error) {
	detail, err := s.loadManagedRegistration(ctx, registrationID, actor)
	if err != nil {
		return nil, err
	}
	if detail.Status != models.RegistrationStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition,
			fmt.Sprintf("registration in status %s cannot be approved", detail.Status))
	}

	now := time.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, detail.ID, models.RegistrationStatusApproved, &now, nil); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve registration")
	}
	detail.Status = models.RegistrationStatusApproved
	detail.ApprovedAt = &now

	message := fmt.Sprintf("Your application for %q was approved. See you there!", detail.EventTitle)
	s.notifier.Notify(ctx, detail.VolunteerID, "Registration approved", message, models.NotificationSuccess)
	s.notifier.SendEmail(detail.VolunteerEmail, "Registration approved", message)
	return detail, nil
}

// Reject declines a pending registration. Event organizer or admin.
func (s *RegistrationService) Reject(ctx context.Context, registrationID string, actor *models.JWTClaims, req RejectRegistrationRequest) (*models.RegistrationDetail, error) {
	detail, err := s.loadManagedRegistration(ctx, registrationID, actor)
	if err != nil {
		return nil, err
	}
	if detail.Status != models.RegistrationStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition,
			fmt.Sprintf("registration in status %s cannot be rejected", detail.Status))
	}

	var reason *string
	if req.Reason != "" {
		reason = &req.Reason
	}
	if err := s.repo.UpdateStatus(ctx, detail.ID, models.RegistrationStatusRejected, nil, reason); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject registration")
	}
	detail.Status = models.RegistrationStatusRejected
	detail.RejectionReason = reason

	message := fmt.Sprintf("Your application for %q was declined.", detail.EventTitle)
	if req.Reason != "" {
		message = fmt.Sprintf("Your application for %q was declined: %s", detail.EventTitle, req.Reason)
	}
	s.notifier.Notify(ctx, detail.VolunteerID, "Registration declined", message, models.NotificationWarning)
	s.notifier.SendEmail(detail.VolunteerEmail, "Registration declined", message)
	return detail, nil
}

// Remove excludes a volunteer from an event. Organizer-initiated, distinct
// from volunteer cancellation: the claimed slot is not given back.
func (s *RegistrationService) Remove(ctx context.Context, registrationID string, actor *models.JWTClaims) (*models.RegistrationDetail, error) {
	detail, err := s.loadManagedRegistration(ctx, registrationID, actor)
	if err != nil {
		return nil, err
	}
	switch detail.Status {
	case models.RegistrationStatusPending, models.RegistrationStatusApproved, models.RegistrationStatusAttended:
	default:
		return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition,
			fmt.Sprintf("registration in status %s cannot be removed", detail.Status))
	}

	if err := s.repo.UpdateStatus(ctx, detail.ID, models.RegistrationStatusRemoved, nil, nil); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove registration")
	}
	detail.Status = models.RegistrationStatusRemoved

	message := fmt.Sprintf("You were removed from the event %q by the organizer.", detail.EventTitle)
	s.notifier.Notify(ctx, detail.VolunteerID, "Removed from event", message, models.NotificationWarning)
	s.notifier.SendEmail(detail.VolunteerEmail, "Removed from event", message)
	return detail, nil
}

// Cancel withdraws the volunteer's own registration. Only pending or
// approved registrations can be cancelled; the row is deleted and the
// claimed slot is released in the same transaction.
func (s *RegistrationService) Cancel(ctx context.Context, registrationID, volunteerID string) error {
	detail, err := s.loadRegistration(ctx, registrationID)
	if err != nil {
		return err
	}
	if detail.VolunteerID != volunteerID {
		return appErrors.Clone(appErrors.ErrForbidden, "registration belongs to another volunteer")
	}
	switch detail.Status {
	case models.RegistrationStatusPending, models.RegistrationStatusApproved:
	default:
		return appErrors.Clone(appErrors.ErrInvalidStateTransition,
			fmt.Sprintf("registration in status %s cannot be cancelled", detail.Status))
	}

	if _, err := s.repo.CancelAndRelease(ctx, detail.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel registration")
	}

	s.notifier.Notify(ctx, detail.OrganizerID, "Registration cancelled",
		fmt.Sprintf("%s withdrew from %q.", detail.VolunteerName, detail.EventTitle), models.NotificationInfo)
	s.logger.Info("registration cancelled",
		zap.String("registration_id", registrationID),
		zap.String("volunteer_id", volunteerID))
	return nil
}

// Get returns a registration visible to its volunteer, the event
// organizer, or an admin.
func (s *RegistrationService) Get(ctx context.Context, registrationID string, actor *models.JWTClaims) (*models.RegistrationDetail, error) {
	detail, err := s.loadRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if actor == nil || (!actor.IsAdmin() && actor.UserID != detail.OrganizerID && actor.UserID != detail.VolunteerID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "registration is not visible to this actor")
	}
	return detail, nil
}

// ListByEvent returns an event's registrations for its organizer or an admin.
func (s *RegistrationService) ListByEvent(ctx context.Context, eventID string, actor *models.JWTClaims) ([]models.RegistrationDetail, error) {
	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load event")
	}
	if actor == nil || (!actor.IsAdmin() && actor.UserID != event.OrganizerID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "actor does not own this event")
	}
	regs, err := s.repo.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registrations")
	}
	return regs, nil
}

// History returns the volunteer's own registrations.
func (s *RegistrationService) History(ctx context.Context, volunteerID string) ([]models.RegistrationDetail, error) {
	regs, err := s.repo.ListByVolunteer(ctx, volunteerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registrations")
	}
	return regs, nil
}

// PendingForOrganizer returns every pending join request across the
// organizer's events.
func (s *RegistrationService) PendingForOrganizer(ctx context.Context, organizerID string) ([]models.RegistrationDetail, error) {
	regs, err := s.repo.ListPendingByOrganizer(ctx, organizerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending registrations")
	}
	return regs, nil
}

func (s *RegistrationService) loadRegistration(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	return detail, nil
}

// loadManagedRegistration loads the registration and enforces that the
// actor manages its event, before any state is examined.
func (s *RegistrationService) loadManagedRegistration(ctx context.Context, id string, actor *models.JWTClaims) (*models.RegistrationDetail, error) {
	detail, err := s.loadRegistration(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor == nil || (!actor.IsAdmin() && actor.UserID != detail.OrganizerID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "actor does not manage this event")
	}
	return detail, nil
}
