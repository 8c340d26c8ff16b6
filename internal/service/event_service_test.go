package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/volunteerhub/vms-api/internal/models"
	appErrors "github.com/volunteerhub/vms-api/pkg/errors"
)

func newEventFixture() (*EventService, *memEventRepo, *memRegistrationRepo, *memUserRepo, *stubNotifier, *memCache) {
	events := newMemEventRepo()
	regs := newMemRegistrationRepo(events)
	users := newMemUserRepo(
		models.User{ID: "admin-1", Role: models.RoleAdmin, Active: true},
		models.User{ID: "org-1", Role: models.RoleOrganizer, Active: true},
	)
	notifier := &stubNotifier{}
	cache := newMemCache()
	svc := NewEventService(events, regs, users, cache, notifier, time.Minute, validator.New(), zap.NewNop())
	return svc, events, regs, users, notifier, cache
}

func assertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, code, appErr.Code)
}

func TestEventServiceCreateEntersPendingApproval(t *testing.T) {
	svc, _, _, _, notifier, _ := newEventFixture()

	event, err := svc.Create(context.Background(), "org-1", CreateEventRequest{
		Title:              "Beach Cleanup",
		Category:           "environment",
		StartAt:            time.Now().Add(72 * time.Hour),
		RequiredVolunteers: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusPendingApproval, event.Status)
	assert.Equal(t, 0, event.CurrentVolunteers)
	assert.NotEmpty(t, notifier.notificationsFor("admin-1"))
}

func TestEventServiceCreateRejectsBadCapacity(t *testing.T) {
	svc, _, _, _, _, _ := newEventFixture()

	_, err := svc.Create(context.Background(), "org-1", CreateEventRequest{
		Title:              "Too Big",
		Category:           "environment",
		StartAt:            time.Now().Add(time.Hour),
		RequiredVolunteers: 101,
	})
	assertErrorCode(t, err, appErrors.ErrValidation.Code)

	_, err = svc.Create(context.Background(), "org-1", CreateEventRequest{
		Title:              "Too Small",
		Category:           "environment",
		StartAt:            time.Now().Add(time.Hour),
		RequiredVolunteers: 0,
	})
	assertErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestEventServiceCreateRejectsInvertedWindow(t *testing.T) {
	svc, _, _, _, _, _ := newEventFixture()
	start := time.Now().Add(48 * time.Hour)
	open := start.Add(-2 * time.Hour)
	closeAt := start.Add(-24 * time.Hour)

	_, err := svc.Create(context.Background(), "org-1", CreateEventRequest{
		Title:               "Backwards Window",
		Category:            "community",
		StartAt:             start,
		RegistrationOpenAt:  &open,
		RegistrationCloseAt: &closeAt,
		RequiredVolunteers:  5,
	})
	assertErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestEventServiceApproveIsAdminOnly(t *testing.T) {
	svc, events, _, _, notifier, _ := newEventFixture()
	events.put(models.Event{ID: "e1", OrganizerID: "org-1", Title: "Food Drive", Status: models.EventStatusPendingApproval})

	_, err := svc.Approve(context.Background(), "e1", organizerClaims("org-1"))
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)

	event, err := svc.Approve(context.Background(), "e1", adminClaims("admin-1"))
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusPublished, event.Status)
	assert.NotEmpty(t, notifier.notificationsFor("org-1"))
}

func TestEventServiceApproveRequiresPendingStatus(t *testing.T) {
	svc, events, _, _, _, _ := newEventFixture()
	events.put(models.Event{ID: "e1", OrganizerID: "org-1", Status: models.EventStatusPublished})

	_, err := svc.Approve(context.Background(), "e1", adminClaims("admin-1"))
	assertErrorCode(t, err, appErrors.ErrInvalidStateTransition.Code)
}

func TestEventServiceRejectStoresReason(t *testing.T) {
	svc, events, _, _, notifier, _ := newEventFixture()
	events.put(models.Event{ID: "e1", OrganizerID: "org-1", Title: "Fun Run", Status: models.EventStatusPendingApproval})

	event, err := svc.Reject(context.Background(), "e1", adminClaims("admin-1"), "insufficient detail")
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusRejected, event.Status)

	notes := notifier.notificationsFor("org-1")
	require.NotEmpty(t, notes)
	assert.Contains(t, notes[0].Message, "insufficient detail")
}

func TestEventServicePublishFromDraft(t *testing.T) {
	svc, events, _, _, _, _ := newEventFixture()
	events.put(models.Event{ID: "e1", OrganizerID: "org-1", Status: models.EventStatusDraft})

	event, err := svc.Publish(context.Background(), "e1", organizerClaims("org-1"))
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusPublished, event.Status)
}

func TestEventServiceOwnershipCheckedBeforeState(t *testing.T) {
	svc, events, _, _, _, _ := newEventFixture()
	events.put(models.Event{ID: "e1", OrganizerID: "org-1", Status: models.EventStatusCompleted})

	// A non-owner hitting a terminal event must see the authorization
	// failure, not the state failure.
	_, err := svc.Publish(context.Background(), "e1", organizerClaims("org-2"))
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)
}

func TestEventServiceTerminalStatesRejectTransitions(t *testing.T) {
	svc, events, _, _, _, _ := newEventFixture()
	terminal := []models.EventStatus{
		models.EventStatusRejected,
		models.EventStatusCompleted,
		models.EventStatusCancelled,
	}
	for _, status := range terminal {
		events.put(models.Event{ID: "e1", OrganizerID: "org-1", Status: status})

		_, err := svc.Publish(context.Background(), "e1", organizerClaims("org-1"))
		assertErrorCode(t, err, appErrors.ErrInvalidStateTransition.Code)

		_, err = svc.Complete(context.Background(), "e1", organizerClaims("org-1"))
		assertErrorCode(t, err, appErrors.ErrInvalidStateTransition.Code)

		_, err = svc.Cancel(context.Background(), "e1", organizerClaims("org-1"), CancelEventRequest{Reason: "x"})
		assertErrorCode(t, err, appErrors.ErrInvalidStateTransition.Code)
	}
}

func TestEventServiceCompleteNotifiesParticipants(t *testing.T) {
	svc, events, regs, _, notifier, _ := newEventFixture()
	events.put(models.Event{ID: "e1", OrganizerID: "org-1", Title: "Tree Planting", Status: models.EventStatusPublished})
	regs.put(models.RegistrationDetail{
		Registration: models.Registration{ID: "r1", EventID: "e1", VolunteerID: "vol-1", Status: models.RegistrationStatusApproved},
	})
	regs.put(models.RegistrationDetail{
		Registration: models.Registration{ID: "r2", EventID: "e1", VolunteerID: "vol-2", Status: models.RegistrationStatusPending},
	})

	event, err := svc.Complete(context.Background(), "e1", organizerClaims("org-1"))
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusCompleted, event.Status)

	assert.NotEmpty(t, notifier.notificationsFor("vol-1"))
	assert.Empty(t, notifier.notificationsFor("vol-2"), "pending registrations are not notified on completion")
	assert.NotEmpty(t, notifier.notificationsFor("admin-1"))
}

func TestEventServiceCancelStoresReasonAndNotifies(t *testing.T) {
	svc, events, regs, _, notifier, _ := newEventFixture()
	events.put(models.Event{ID: "e1", OrganizerID: "org-1", Title: "Blood Drive", Status: models.EventStatusPublished})
	regs.put(models.RegistrationDetail{
		Registration: models.Registration{ID: "r1", EventID: "e1", VolunteerID: "vol-1", Status: models.RegistrationStatusPending},
	})
	regs.put(models.RegistrationDetail{
		Registration: models.Registration{ID: "r2", EventID: "e1", VolunteerID: "vol-2", Status: models.RegistrationStatusRejected},
	})

	event, err := svc.Cancel(context.Background(), "e1", organizerClaims("org-1"), CancelEventRequest{Reason: "venue flooded"})
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusCancelled, event.Status)
	require.NotNil(t, event.CancellationReason)
	assert.Equal(t, "venue flooded", *event.CancellationReason)

	assert.NotEmpty(t, notifier.notificationsFor("vol-1"))
	assert.Empty(t, notifier.notificationsFor("vol-2"), "rejected registrations are not notified on cancellation")
}

func TestEventServiceCancelRequiresReason(t *testing.T) {
	svc, events, _, _, _, _ := newEventFixture()
	events.put(models.Event{ID: "e1", OrganizerID: "org-1", Status: models.EventStatusPublished})

	_, err := svc.Cancel(context.Background(), "e1", organizerClaims("org-1"), CancelEventRequest{})
	assertErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestEventServiceUpdateNotifiesOnScheduleChange(t *testing.T) {
	svc, events, regs, _, notifier, _ := newEventFixture()
	start := time.Now().Add(96 * time.Hour).Truncate(time.Second)
	events.put(models.Event{
		ID: "e1", OrganizerID: "org-1", Title: "Marathon Aid", Category: "sports",
		StartAt: start, RequiredVolunteers: 20, Status: models.EventStatusPublished,
	})
	regs.put(models.RegistrationDetail{
		Registration: models.Registration{ID: "r1", EventID: "e1", VolunteerID: "vol-1", Status: models.RegistrationStatusApproved},
	})

	_, err := svc.Update(context.Background(), "e1", organizerClaims("org-1"), UpdateEventRequest{
		Title:              "Marathon Aid",
		Category:           "sports",
		StartAt:            start.Add(24 * time.Hour),
		RequiredVolunteers: 20,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, notifier.notificationsFor("vol-1"))
}

func TestEventServiceUpdateNotifiesOnAddressChange(t *testing.T) {
	svc, events, regs, _, notifier, _ := newEventFixture()
	start := time.Now().Add(96 * time.Hour).Truncate(time.Second)
	city := "Oslo"
	events.put(models.Event{
		ID: "e1", OrganizerID: "org-1", Title: "Harbor Cleanup", Category: "environment",
		StartAt: start, City: &city, RequiredVolunteers: 10, Status: models.EventStatusPublished,
	})
	regs.put(models.RegistrationDetail{
		Registration: models.Registration{ID: "r1", EventID: "e1", VolunteerID: "vol-1", Status: models.RegistrationStatusApproved},
	})

	newCity := "Bergen"
	_, err := svc.Update(context.Background(), "e1", organizerClaims("org-1"), UpdateEventRequest{
		Title:              "Harbor Cleanup",
		Category:           "environment",
		StartAt:            start,
		City:               &newCity,
		RequiredVolunteers: 10,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, notifier.notificationsFor("vol-1"))
}

func TestEventServiceUpdateCannotDropCapacityBelowRegistered(t *testing.T) {
	svc, events, _, _, _, _ := newEventFixture()
	events.put(models.Event{
		ID: "e1", OrganizerID: "org-1", Title: "Soup Kitchen", Category: "community",
		StartAt: time.Now().Add(48 * time.Hour), RequiredVolunteers: 5, CurrentVolunteers: 4,
		Status: models.EventStatusPublished,
	})

	_, err := svc.Update(context.Background(), "e1", organizerClaims("org-1"), UpdateEventRequest{
		Title:              "Soup Kitchen",
		Category:           "community",
		StartAt:            time.Now().Add(48 * time.Hour),
		RequiredVolunteers: 2,
	})
	assertErrorCode(t, err, appErrors.ErrValidation.Code)

	stored := events.get("e1")
	assert.Equal(t, 5, stored.RequiredVolunteers)
	assert.Equal(t, 4, stored.CurrentVolunteers)
}

func TestEventServiceUpdateRejectedOnTerminalEvent(t *testing.T) {
	svc, events, _, _, _, _ := newEventFixture()
	events.put(models.Event{ID: "e1", OrganizerID: "org-1", Status: models.EventStatusCancelled})

	_, err := svc.Update(context.Background(), "e1", organizerClaims("org-1"), UpdateEventRequest{
		Title:              "New Title",
		Category:           "community",
		StartAt:            time.Now().Add(time.Hour),
		RequiredVolunteers: 5,
	})
	assertErrorCode(t, err, appErrors.ErrInvalidStateTransition.Code)
}

func TestEventServiceListCachesPublishedListings(t *testing.T) {
	svc, events, _, _, _, cache := newEventFixture()
	events.put(models.Event{ID: "e1", OrganizerID: "org-1", Status: models.EventStatusPublished})

	filter := models.EventFilter{Status: models.EventStatusPublished, Page: 1, PageSize: 20}
	first, _, err := svc.List(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 0, cache.hits)

	second, _, err := svc.List(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 1, cache.hits)
}

func TestEventServiceTransitionsInvalidateListingCache(t *testing.T) {
	svc, events, _, _, _, cache := newEventFixture()
	events.put(models.Event{ID: "e1", OrganizerID: "org-1", Status: models.EventStatusPendingApproval})

	before := cache.deletes
	_, err := svc.Approve(context.Background(), "e1", adminClaims("admin-1"))
	require.NoError(t, err)
	assert.Greater(t, cache.deletes, before)
}

func TestEventServiceGetNotFound(t *testing.T) {
	svc, _, _, _, _, _ := newEventFixture()

	_, err := svc.Get(context.Background(), "missing")
	assertErrorCode(t, err, appErrors.ErrNotFound.Code)
}
