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

type attendanceRepository interface {
	Mark(ctx context.Context, registrationID, volunteerID string, date time.Time, status models.AttendanceStatus, pointAward int) (*repository.MarkResult, error)
	Summary(ctx context.Context, registrationID string) (*models.AttendanceSummary, error)
	ListByRegistration(ctx context.Context, registrationID string) ([]models.Attendance, error)
}

type attendanceRegistrationReader interface {
	FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error)
}

// MarkAttendanceRequest records one volunteer's presence for one date.
type MarkAttendanceRequest struct {
	Date    time.Time `json:"date" validate:"required"`
	Present bool      `json:"present"`
}

// AttendanceMark is the outcome of a mark call.
type AttendanceMark struct {
	Attendance    models.Attendance `json:"attendance"`
	PointsAwarded int               `json:"points_awarded"`
}

// AttendanceService records per-date attendance and drives the point
// award on the first transition of a date into PRESENT.
type AttendanceService struct {
	repo          attendanceRepository
	registrations attendanceRegistrationReader
	notifier      notificationSink
	pointAward    int
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewAttendanceService constructs AttendanceService.
func NewAttendanceService(repo attendanceRepository, registrations attendanceRegistrationReader, notifier notificationSink, pointAward int, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if pointAward <= 0 {
		pointAward = 50
	}
	return &AttendanceService{
		repo:          repo,
		registrations: registrations,
		notifier:      notifier,
		pointAward:    pointAward,
		validator:     validate,
		logger:        logger,
	}
}

// Mark upserts the attendance row for the date. Re-marking a date that is
// already PRESENT changes nothing and awards no points; the registration
// never regresses out of ATTENDED. The status flip and the point credit
// commit together with the mark.
func (s *AttendanceService) Mark(ctx context.Context, registrationID string, actor *models.JWTClaims, req MarkAttendanceRequest) (*AttendanceMark, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}

	detail, err := s.loadManagedRegistration(ctx, registrationID, actor)
	if err != nil {
		return nil, err
	}
	switch detail.Status {
	case models.RegistrationStatusApproved, models.RegistrationStatusAttended:
	default:
		return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition,
			fmt.Sprintf("attendance cannot be recorded for a %s registration", detail.Status))
	}

	status := models.AttendanceStatusAbsent
	if req.Present {
		status = models.AttendanceStatusPresent
	}
	date := normalizeDate(req.Date)

	result, err := s.repo.Mark(ctx, detail.ID, detail.VolunteerID, date, status, s.pointAward)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attendance")
	}

	mark := &AttendanceMark{Attendance: result.Attendance}
	if result.PointsAwarded {
		mark.PointsAwarded = s.pointAward
		s.notifier.Notify(ctx, detail.VolunteerID, "Attendance recorded",
			fmt.Sprintf("Your attendance at %q was recorded. You earned %d points.", detail.EventTitle, s.pointAward),
			models.NotificationSuccess)
	}

	s.logger.Info("attendance marked",
		zap.String("registration_id", detail.ID),
		zap.String("date", date.Format("2006-01-02")),
		zap.String("status", string(status)),
		zap.Bool("points_awarded", result.PointsAwarded))
	return mark, nil
}

// ListByRegistration returns all marks for a registration. Visible to the
// event organizer, the registration's volunteer, and admins.
func (s *AttendanceService) ListByRegistration(ctx context.Context, registrationID string, actor *models.JWTClaims) ([]models.Attendance, error) {
	detail, err := s.loadRegistrationDetail(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if actor == nil || (!actor.IsAdmin() && actor.UserID != detail.OrganizerID && actor.UserID != detail.VolunteerID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "attendance is not visible to this actor")
	}
	records, err := s.repo.ListByRegistration(ctx, registrationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	return records, nil
}

// Summary aggregates a registration's marks. Same visibility as listing.
func (s *AttendanceService) Summary(ctx context.Context, registrationID string, actor *models.JWTClaims) (*models.AttendanceSummary, error) {
	detail, err := s.loadRegistrationDetail(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if actor == nil || (!actor.IsAdmin() && actor.UserID != detail.OrganizerID && actor.UserID != detail.VolunteerID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "attendance is not visible to this actor")
	}
	summary, err := s.repo.Summary(ctx, registrationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to summarise attendance")
	}
	return summary, nil
}

func (s *AttendanceService) loadRegistrationDetail(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	detail, err := s.registrations.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	return detail, nil
}

func (s *AttendanceService) loadManagedRegistration(ctx context.Context, id string, actor *models.JWTClaims) (*models.RegistrationDetail, error) {
	detail, err := s.loadRegistrationDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor == nil || (!actor.IsAdmin() && actor.UserID != detail.OrganizerID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "actor does not manage this event")
	}
	return detail, nil
}

// normalizeDate truncates to a UTC calendar date so two timestamps on the
// same day hit the same attendance row.
func normalizeDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
