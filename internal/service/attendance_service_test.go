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

func newAttendanceFixture() (*AttendanceService, *memRegistrationRepo, *memUserRepo, *stubNotifier) {
	events := newMemEventRepo()
	regs := newMemRegistrationRepo(events)
	users := newMemUserRepo(
		models.User{ID: "vol-1", FullName: "Vera Volunteer", Role: models.RoleVolunteer, Active: true, Points: 0},
	)
	notifier := &stubNotifier{}
	attendance := newMemAttendanceRepo(regs, users)
	svc := NewAttendanceService(attendance, regs, notifier, 50, validator.New(), zap.NewNop())
	return svc, regs, users, notifier
}

func approvedRegistration(id string) models.RegistrationDetail {
	return models.RegistrationDetail{
		Registration: models.Registration{ID: id, EventID: "e1", VolunteerID: "vol-1", Status: models.RegistrationStatusApproved},
		OrganizerID:  "org-1",
		EventTitle:   "River Cleanup",
	}
}

func TestAttendanceServiceMarkPresentAwardsPointsOnce(t *testing.T) {
	svc, regs, users, notifier := newAttendanceFixture()
	regs.put(approvedRegistration("r1"))
	day := time.Date(2026, 5, 9, 10, 30, 0, 0, time.UTC)

	mark, err := svc.Mark(context.Background(), "r1", organizerClaims("org-1"), MarkAttendanceRequest{Date: day, Present: true})
	require.NoError(t, err)
	assert.Equal(t, 50, mark.PointsAwarded)
	assert.Equal(t, 50, users.points("vol-1"))
	assert.Equal(t, models.RegistrationStatusAttended, regs.get("r1").Status)
	require.Len(t, notifier.notificationsFor("vol-1"), 1)

	// Re-marking the same date present is idempotent.
	mark, err = svc.Mark(context.Background(), "r1", organizerClaims("org-1"), MarkAttendanceRequest{Date: day.Add(2 * time.Hour), Present: true})
	require.NoError(t, err)
	assert.Equal(t, 0, mark.PointsAwarded)
	assert.Equal(t, 50, users.points("vol-1"))
	assert.Len(t, notifier.notificationsFor("vol-1"), 1, "no second notification for an already-present date")
}

func TestAttendanceServiceSeparateDatesAwardSeparately(t *testing.T) {
	svc, regs, users, _ := newAttendanceFixture()
	regs.put(approvedRegistration("r1"))

	day1 := time.Date(2026, 5, 9, 0, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	_, err := svc.Mark(context.Background(), "r1", organizerClaims("org-1"), MarkAttendanceRequest{Date: day1, Present: true})
	require.NoError(t, err)
	_, err = svc.Mark(context.Background(), "r1", organizerClaims("org-1"), MarkAttendanceRequest{Date: day2, Present: true})
	require.NoError(t, err)

	assert.Equal(t, 100, users.points("vol-1"))
}

func TestAttendanceServiceAbsentThenPresentAwardsOnce(t *testing.T) {
	svc, regs, users, _ := newAttendanceFixture()
	regs.put(approvedRegistration("r1"))
	day := time.Date(2026, 5, 9, 0, 0, 0, 0, time.UTC)

	_, err := svc.Mark(context.Background(), "r1", organizerClaims("org-1"), MarkAttendanceRequest{Date: day, Present: false})
	require.NoError(t, err)
	assert.Equal(t, 0, users.points("vol-1"))
	assert.Equal(t, models.RegistrationStatusApproved, regs.get("r1").Status)

	mark, err := svc.Mark(context.Background(), "r1", organizerClaims("org-1"), MarkAttendanceRequest{Date: day, Present: true})
	require.NoError(t, err)
	assert.Equal(t, 50, mark.PointsAwarded)
	assert.Equal(t, 50, users.points("vol-1"))
}

func TestAttendanceServiceMarkRequiresEventOrganizer(t *testing.T) {
	svc, regs, _, _ := newAttendanceFixture()
	regs.put(approvedRegistration("r1"))
	day := time.Now()

	_, err := svc.Mark(context.Background(), "r1", organizerClaims("org-2"), MarkAttendanceRequest{Date: day, Present: true})
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)

	_, err = svc.Mark(context.Background(), "r1", volunteerClaims("vol-1"), MarkAttendanceRequest{Date: day, Present: true})
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)
}

func TestAttendanceServiceMarkRequiresApprovedRegistration(t *testing.T) {
	svc, regs, _, _ := newAttendanceFixture()
	reg := approvedRegistration("r1")
	reg.Status = models.RegistrationStatusPending
	regs.put(reg)

	_, err := svc.Mark(context.Background(), "r1", organizerClaims("org-1"), MarkAttendanceRequest{Date: time.Now(), Present: true})
	assertErrorCode(t, err, appErrors.ErrInvalidStateTransition.Code)
}

func TestAttendanceServiceMarkUnknownRegistration(t *testing.T) {
	svc, _, _, _ := newAttendanceFixture()

	_, err := svc.Mark(context.Background(), "missing", organizerClaims("org-1"), MarkAttendanceRequest{Date: time.Now(), Present: true})
	assertErrorCode(t, err, appErrors.ErrNotFound.Code)
}

func TestAttendanceServiceSummaryVisibility(t *testing.T) {
	svc, regs, _, _ := newAttendanceFixture()
	regs.put(approvedRegistration("r1"))

	_, err := svc.Summary(context.Background(), "r1", volunteerClaims("vol-9"))
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)

	_, err = svc.Summary(context.Background(), "r1", volunteerClaims("vol-1"))
	require.NoError(t, err)
}
