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

type eventRepository interface {
	FindByID(ctx context.Context, id string) (*models.Event, error)
	FindDetailByID(ctx context.Context, id string) (*models.EventDetail, error)
	List(ctx context.Context, filter models.EventFilter) ([]models.EventDetail, int, error)
	Create(ctx context.Context, event *models.Event) error
	Update(ctx context.Context, event *models.Event) error
	UpdateStatus(ctx context.Context, id string, status models.EventStatus, cancellationReason *string) error
	Delete(ctx context.Context, id string) error
}

type adminLister interface {
	ListAdmins(ctx context.Context) ([]models.User, error)
}

type transitionRegistrationReader interface {
	ListByEventAndStatuses(ctx context.Context, eventID string, statuses []models.RegistrationStatus) ([]models.RegistrationDetail, error)
}

type eventCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// notificationSink receives transition side effects. Implementations must
// be fire-and-forget: a delivery failure never reaches the caller.
type notificationSink interface {
	Notify(ctx context.Context, recipientID, title, message string, severity models.NotificationSeverity)
	SendEmail(to, subject, body string)
}

// CreateEventRequest describes organizer event submission.
type CreateEventRequest struct {
	Title               string     `json:"title" validate:"required,max=200"`
	Category            string     `json:"category" validate:"required"`
	Description         *string    `json:"description,omitempty"`
	LocationName        *string    `json:"location_name,omitempty"`
	Address             *string    `json:"address,omitempty"`
	City                *string    `json:"city,omitempty"`
	StartAt             time.Time  `json:"start_at" validate:"required"`
	EndAt               *time.Time `json:"end_at,omitempty"`
	RegistrationOpenAt  *time.Time `json:"registration_open_at,omitempty"`
	RegistrationCloseAt *time.Time `json:"registration_close_at,omitempty"`
	RequiredVolunteers  int        `json:"required_volunteers" validate:"required,min=1,max=100"`
	SkillsRequired      *string    `json:"skills_required,omitempty"`
}

// UpdateEventRequest replaces the mutable non-status fields of an event.
type UpdateEventRequest struct {
	Title               string     `json:"title" validate:"required,max=200"`
	Category            string     `json:"category" validate:"required"`
	Description         *string    `json:"description,omitempty"`
	LocationName        *string    `json:"location_name,omitempty"`
	Address             *string    `json:"address,omitempty"`
	City                *string    `json:"city,omitempty"`
	StartAt             time.Time  `json:"start_at" validate:"required"`
	EndAt               *time.Time `json:"end_at,omitempty"`
	RegistrationOpenAt  *time.Time `json:"registration_open_at,omitempty"`
	RegistrationCloseAt *time.Time `json:"registration_close_at,omitempty"`
	RequiredVolunteers  int        `json:"required_volunteers" validate:"required,min=1,max=100"`
	SkillsRequired      *string    `json:"skills_required,omitempty"`
}

// CancelEventRequest carries the mandatory cancellation reason.
type CancelEventRequest struct {
	Reason string `json:"reason" validate:"required"`
}

const publishedEventsCachePattern = "events:published:*"

// EventService owns the event status state machine and its fan-out.
type EventService struct {
	repo          eventRepository
	registrations transitionRegistrationReader
	admins        adminLister
	cache         eventCache
	notifier      notificationSink
	cacheTTL      time.Duration
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewEventService constructs EventService.
func NewEventService(repo eventRepository, registrations transitionRegistrationReader, admins adminLister, cache eventCache, notifier notificationSink, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *EventService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &EventService{
		repo:          repo,
		registrations: registrations,
		admins:        admins,
		cache:         cache,
		notifier:      notifier,
		cacheTTL:      cacheTTL,
		validator:     validate,
		logger:        logger,
	}
}

// cachedEventList is the payload stored for public listing cache entries.
type cachedEventList struct {
	Events     []models.EventDetail `json:"events"`
	Pagination models.Pagination    `json:"pagination"`
}

// Create submits a new event. It enters PENDING_APPROVAL and waits for an
// admin decision; organizers may also publish directly via Publish.
func (s *EventService) Create(ctx context.Context, organizerID string, req CreateEventRequest) (*models.Event, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid event payload")
	}
	if err := validateEventSchedule(req.StartAt, req.RegistrationOpenAt, req.RegistrationCloseAt); err != nil {
		return nil, err
	}

	event := &models.Event{
		OrganizerID:         organizerID,
		Title:               req.Title,
		Category:            req.Category,
		Description:         req.Description,
		LocationName:        req.LocationName,
		Address:             req.Address,
		City:                req.City,
		StartAt:             req.StartAt,
		EndAt:               req.EndAt,
		RegistrationOpenAt:  req.RegistrationOpenAt,
		RegistrationCloseAt: req.RegistrationCloseAt,
		RequiredVolunteers:  req.RequiredVolunteers,
		CurrentVolunteers:   0,
		SkillsRequired:      req.SkillsRequired,
		Status:              models.EventStatusPendingApproval,
	}
	if err := s.repo.Create(ctx, event); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create event")
	}

	s.notifyAdmins(ctx, "Event pending approval",
		fmt.Sprintf("Event %q was submitted and awaits review.", event.Title), models.NotificationInfo)
	s.logger.Info("event created",
		zap.String("event_id", event.ID),
		zap.String("organizer_id", organizerID))
	return event, nil
}

// Get returns one event with organizer info.
func (s *EventService) Get(ctx context.Context, id string) (*models.EventDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load event")
	}
	return detail, nil
}

// List returns events matching the filter. Published listings without a
// search term are served from cache when possible.
func (s *EventService) List(ctx context.Context, filter models.EventFilter) ([]models.EventDetail, *models.Pagination, error) {
	cacheKey := ""
	if s.cache != nil && filter.Status == models.EventStatusPublished && filter.Search == "" && filter.OrganizerID == "" {
		cacheKey = fmt.Sprintf("events:published:%s:%s:%d:%d:%s:%s",
			filter.Category, filter.City, filter.Page, filter.PageSize, filter.SortBy, filter.SortOrder)
		var cached cachedEventList
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return cached.Events, &cached.Pagination, nil
		}
	}

	events, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list events")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}

	if cacheKey != "" {
		if err := s.cache.Set(ctx, cacheKey, cachedEventList{Events: events, Pagination: *pagination}, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache event listing", zap.Error(err))
		}
	}
	return events, pagination, nil
}

// Update mutates the non-status fields of a non-terminal event. Schedule
// or location changes on a published event notify every approved volunteer.
func (s *EventService) Update(ctx context.Context, id string, actor *models.JWTClaims, req UpdateEventRequest) (*models.Event, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid event payload")
	}
	if err := validateEventSchedule(req.StartAt, req.RegistrationOpenAt, req.RegistrationCloseAt); err != nil {
		return nil, err
	}

	event, err := s.loadOwnedEvent(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if event.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition,
			fmt.Sprintf("event in status %s cannot be updated", event.Status))
	}
	if req.RequiredVolunteers < event.CurrentVolunteers {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("required volunteers cannot drop below the %d already registered", event.CurrentVolunteers))
	}

	scheduleChanged := !event.StartAt.Equal(req.StartAt) ||
		!equalStringPtr(event.LocationName, req.LocationName) ||
		!equalStringPtr(event.Address, req.Address) ||
		!equalStringPtr(event.City, req.City)
	wasPublished := event.Status == models.EventStatusPublished

	event.Title = req.Title
	event.Category = req.Category
	event.Description = req.Description
	event.LocationName = req.LocationName
	event.Address = req.Address
	event.City = req.City
	event.StartAt = req.StartAt
	event.EndAt = req.EndAt
	event.RegistrationOpenAt = req.RegistrationOpenAt
	event.RegistrationCloseAt = req.RegistrationCloseAt
	event.RequiredVolunteers = req.RequiredVolunteers
	event.SkillsRequired = req.SkillsRequired

	if err := s.repo.Update(ctx, event); err != nil {
		if errors.Is(err, repository.ErrCapacityBelowRegistered) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "required volunteers cannot drop below current registrations")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update event")
	}
	s.invalidateListings(ctx)

	if wasPublished && scheduleChanged {
		s.notifyRegistrations(ctx, event,
			[]models.RegistrationStatus{models.RegistrationStatusApproved},
			"Event details changed",
			fmt.Sprintf("The schedule or location of %q has changed. Please review the updated details.", event.Title),
			models.NotificationWarning, true)
	}
	return event, nil
}

// Approve moves a pending event to PUBLISHED. Admin only.
func (s *EventService) Approve(ctx context.Context, id string, actor *models.JWTClaims) (*models.Event, error) {
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may approve events")
	}
	event, err := s.loadEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.applyTransition(ctx, event, models.EventStatusPublished, nil, models.EventStatusPendingApproval); err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, event.OrganizerID, "Event approved",
		fmt.Sprintf("Your event %q was approved and is now open for registration.", event.Title),
		models.NotificationSuccess)
	return event, nil
}

// Reject declines a pending event. Admin only.
func (s *EventService) Reject(ctx context.Context, id string, actor *models.JWTClaims, reason string) (*models.Event, error) {
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may reject events")
	}
	event, err := s.loadEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	var stored *string
	if reason != "" {
		stored = &reason
	}
	if err := s.applyTransition(ctx, event, models.EventStatusRejected, stored, models.EventStatusPendingApproval); err != nil {
		return nil, err
	}

	message := fmt.Sprintf("Your event %q was rejected.", event.Title)
	if reason != "" {
		message = fmt.Sprintf("Your event %q was rejected: %s", event.Title, reason)
	}
	s.notifier.Notify(ctx, event.OrganizerID, "Event rejected", message, models.NotificationWarning)
	return event, nil
}

// Publish opens a draft or pending event for registration without the
// admin approval flow. Organizer or admin.
func (s *EventService) Publish(ctx context.Context, id string, actor *models.JWTClaims) (*models.Event, error) {
	event, err := s.loadOwnedEvent(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if err := s.applyTransition(ctx, event, models.EventStatusPublished, nil,
		models.EventStatusDraft, models.EventStatusPendingApproval); err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, event.OrganizerID, "Event published",
		fmt.Sprintf("Your event %q is now open for registration.", event.Title),
		models.NotificationSuccess)
	return event, nil
}

// Complete closes out a published event. Organizer or admin. Approved and
// attended volunteers plus all admins are notified.
func (s *EventService) Complete(ctx context.Context, id string, actor *models.JWTClaims) (*models.Event, error) {
	event, err := s.loadOwnedEvent(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if err := s.applyTransition(ctx, event, models.EventStatusCompleted, nil, models.EventStatusPublished); err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, event.OrganizerID, "Event completed",
		fmt.Sprintf("Your event %q is now completed.", event.Title), models.NotificationSuccess)
	s.notifyAdmins(ctx, "Event completed",
		fmt.Sprintf("Event %q was marked completed.", event.Title), models.NotificationInfo)
	s.notifyRegistrations(ctx, event,
		[]models.RegistrationStatus{models.RegistrationStatusApproved, models.RegistrationStatusAttended},
		"Event completed",
		fmt.Sprintf("Thank you for volunteering at %q. The event is now completed.", event.Title),
		models.NotificationSuccess, false)
	return event, nil
}

// Cancel aborts any non-terminal event, storing the reason. Pending and
// approved volunteers plus all admins are notified.
func (s *EventService) Cancel(ctx context.Context, id string, actor *models.JWTClaims, req CancelEventRequest) (*models.Event, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "cancellation reason is required")
	}
	event, err := s.loadOwnedEvent(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if event.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition,
			fmt.Sprintf("event in status %s cannot be cancelled", event.Status))
	}
	reason := req.Reason
	if err := s.applyTransition(ctx, event, models.EventStatusCancelled, &reason,
		models.EventStatusDraft, models.EventStatusPendingApproval, models.EventStatusPublished); err != nil {
		return nil, err
	}

	s.notifyAdmins(ctx, "Event cancelled",
		fmt.Sprintf("Event %q was cancelled: %s", event.Title, reason), models.NotificationWarning)
	s.notifyRegistrations(ctx, event,
		[]models.RegistrationStatus{models.RegistrationStatusPending, models.RegistrationStatusApproved},
		"Event cancelled",
		fmt.Sprintf("The event %q was cancelled: %s", event.Title, reason),
		models.NotificationWarning, true)
	return event, nil
}

// Delete removes an event and, via cascade, its registrations. Organizer
// or admin.
func (s *EventService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	event, err := s.loadOwnedEvent(ctx, id, actor)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, event.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete event")
	}
	s.invalidateListings(ctx)
	s.logger.Info("event deleted", zap.String("event_id", event.ID), zap.String("actor_id", actor.UserID))
	return nil
}

func (s *EventService) loadEvent(ctx context.Context, id string) (*models.Event, error) {
	event, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load event")
	}
	return event, nil
}

// loadOwnedEvent loads the event and enforces ownership before any state
// is examined.
func (s *EventService) loadOwnedEvent(ctx context.Context, id string, actor *models.JWTClaims) (*models.Event, error) {
	event, err := s.loadEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor == nil || (!actor.IsAdmin() && actor.UserID != event.OrganizerID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "actor does not own this event")
	}
	return event, nil
}

// applyTransition checks the source status against the allowed set, then
// persists the new status and invalidates cached listings.
func (s *EventService) applyTransition(ctx context.Context, event *models.Event, to models.EventStatus, reason *string, allowedFrom ...models.EventStatus) error {
	allowed := false
	for _, from := range allowedFrom {
		if event.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return appErrors.Clone(appErrors.ErrInvalidStateTransition,
			fmt.Sprintf("cannot move event from %s to %s", event.Status, to))
	}

	if err := s.repo.UpdateStatus(ctx, event.ID, to, reason); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update event status")
	}
	event.Status = to
	if reason != nil {
		event.CancellationReason = reason
	}
	s.invalidateListings(ctx)
	s.logger.Info("event transition",
		zap.String("event_id", event.ID),
		zap.String("status", string(to)))
	return nil
}

func (s *EventService) invalidateListings(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, publishedEventsCachePattern); err != nil {
		s.logger.Warn("failed to invalidate event listing cache", zap.Error(err))
	}
}

func (s *EventService) notifyAdmins(ctx context.Context, title, message string, severity models.NotificationSeverity) {
	admins, err := s.admins.ListAdmins(ctx)
	if err != nil {
		s.logger.Warn("failed to list admins for notification", zap.Error(err))
		return
	}
	for _, admin := range admins {
		s.notifier.Notify(ctx, admin.ID, title, message, severity)
	}
}

func (s *EventService) notifyRegistrations(ctx context.Context, event *models.Event, statuses []models.RegistrationStatus, title, message string, severity models.NotificationSeverity, email bool) {
	regs, err := s.registrations.ListByEventAndStatuses(ctx, event.ID, statuses)
	if err != nil {
		s.logger.Warn("failed to list registrations for notification",
			zap.String("event_id", event.ID), zap.Error(err))
		return
	}
	for _, reg := range regs {
		s.notifier.Notify(ctx, reg.VolunteerID, title, message, severity)
		if email {
			s.notifier.SendEmail(reg.VolunteerEmail, title, message)
		}
	}
}

func validateEventSchedule(startAt time.Time, openAt, closeAt *time.Time) error {
	if openAt != nil && closeAt != nil && openAt.After(*closeAt) {
		return appErrors.Clone(appErrors.ErrValidation, "registration window opens after it closes")
	}
	if closeAt != nil && closeAt.After(startAt) {
		return appErrors.Clone(appErrors.ErrValidation, "registration must close before the event starts")
	}
	return nil
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
