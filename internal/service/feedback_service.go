package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/volunteerhub/vms-api/internal/models"
	appErrors "github.com/volunteerhub/vms-api/pkg/errors"
)

type feedbackRepository interface {
	Create(ctx context.Context, feedback *models.Feedback) error
	FindDetailByID(ctx context.Context, id string) (*models.FeedbackDetail, error)
	Update(ctx context.Context, id, comment string, rating int) error
	Delete(ctx context.Context, id string) error
	ListByEvent(ctx context.Context, eventID string) ([]models.FeedbackDetail, error)
}

type feedbackRegistrationReader interface {
	FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error)
}

// SubmitFeedbackRequest carries a volunteer's comment and rating.
type SubmitFeedbackRequest struct {
	Comment string `json:"comment" validate:"required,max=2000"`
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
}

// FeedbackService manages volunteer feedback on attended registrations.
type FeedbackService struct {
	repo          feedbackRepository
	registrations feedbackRegistrationReader
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewFeedbackService constructs FeedbackService.
func NewFeedbackService(repo feedbackRepository, registrations feedbackRegistrationReader, validate *validator.Validate, logger *zap.Logger) *FeedbackService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedbackService{repo: repo, registrations: registrations, validator: validate, logger: logger}
}

// Submit records feedback from the registration's own volunteer. Only
// attended registrations accept feedback.
func (s *FeedbackService) Submit(ctx context.Context, registrationID, volunteerID string, req SubmitFeedbackRequest) (*models.Feedback, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid feedback payload")
	}

	detail, err := s.registrations.FindDetailByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	if detail.VolunteerID != volunteerID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "registration belongs to another volunteer")
	}
	if detail.Status != models.RegistrationStatusAttended {
		return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition,
			fmt.Sprintf("feedback requires an attended registration, got %s", detail.Status))
	}

	feedback := &models.Feedback{
		RegistrationID: registrationID,
		Comment:        req.Comment,
		Rating:         req.Rating,
	}
	if err := s.repo.Create(ctx, feedback); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save feedback")
	}
	return feedback, nil
}

// Update edits the volunteer's own feedback.
func (s *FeedbackService) Update(ctx context.Context, feedbackID, volunteerID string, req SubmitFeedbackRequest) (*models.FeedbackDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid feedback payload")
	}

	detail, err := s.loadFeedback(ctx, feedbackID)
	if err != nil {
		return nil, err
	}
	if detail.VolunteerID != volunteerID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "feedback belongs to another volunteer")
	}

	if err := s.repo.Update(ctx, feedbackID, req.Comment, req.Rating); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update feedback")
	}
	detail.Comment = req.Comment
	detail.Rating = req.Rating
	return detail, nil
}

// Delete removes feedback. The submitting volunteer, the event's
// organizer, and admins may delete.
func (s *FeedbackService) Delete(ctx context.Context, feedbackID string, actor *models.JWTClaims) error {
	detail, err := s.loadFeedback(ctx, feedbackID)
	if err != nil {
		return err
	}

	allowed := actor != nil && (actor.IsAdmin() || actor.UserID == detail.VolunteerID)
	if !allowed && actor != nil {
		reg, err := s.registrations.FindDetailByID(ctx, detail.RegistrationID)
		if err == nil && reg.OrganizerID == actor.UserID {
			allowed = true
		}
	}
	if !allowed {
		return appErrors.Clone(appErrors.ErrForbidden, "actor may not delete this feedback")
	}

	if err := s.repo.Delete(ctx, feedbackID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete feedback")
	}
	s.logger.Info("feedback deleted",
		zap.String("feedback_id", feedbackID),
		zap.String("actor_id", actor.UserID))
	return nil
}

// ListByEvent returns all feedback left on one event.
func (s *FeedbackService) ListByEvent(ctx context.Context, eventID string) ([]models.FeedbackDetail, error) {
	entries, err := s.repo.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list feedback")
	}
	return entries, nil
}

func (s *FeedbackService) loadFeedback(ctx context.Context, id string) (*models.FeedbackDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "feedback not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load feedback")
	}
	return detail, nil
}
