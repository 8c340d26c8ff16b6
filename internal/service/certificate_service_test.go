package service

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/volunteerhub/vms-api/internal/models"
	"github.com/volunteerhub/vms-api/pkg/certificate"
	appErrors "github.com/volunteerhub/vms-api/pkg/errors"
	"github.com/volunteerhub/vms-api/pkg/storage"
)

func newCertificateFixture(t *testing.T) (*CertificateService, *memRegistrationRepo, *memAttendanceRepo, *stubNotifier) {
	t.Helper()
	events := newMemEventRepo()
	regs := newMemRegistrationRepo(events)
	users := newMemUserRepo(models.User{ID: "vol-1", FullName: "Vera Volunteer", Role: models.RoleVolunteer, Active: true})
	attendance := newMemAttendanceRepo(regs, users)
	notifier := &stubNotifier{}

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)

	svc := NewCertificateService(regs, attendance, certificate.NewPDFRenderer(), store, signer, notifier, 75.0, zap.NewNop())
	return svc, regs, attendance, notifier
}

func attendedRegistration(id string) models.RegistrationDetail {
	return models.RegistrationDetail{
		Registration:  models.Registration{ID: id, EventID: "e1", VolunteerID: "vol-1", Status: models.RegistrationStatusAttended},
		EventTitle:    "River Cleanup",
		EventStartAt:  time.Date(2026, 5, 9, 9, 0, 0, 0, time.UTC),
		EventStatus:   models.EventStatusCompleted,
		OrganizerID:   "org-1",
		OrganizerName: "Olga Organizer",
		VolunteerName: "Vera Volunteer",
	}
}

func markDays(t *testing.T, attendance *memAttendanceRepo, registrationID string, present, absent int) {
	t.Helper()
	day := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < present; i++ {
		_, err := attendance.Mark(context.Background(), registrationID, "vol-1", day, models.AttendanceStatusPresent, 50)
		require.NoError(t, err)
		day = day.Add(24 * time.Hour)
	}
	for i := 0; i < absent; i++ {
		_, err := attendance.Mark(context.Background(), registrationID, "vol-1", day, models.AttendanceStatusAbsent, 50)
		require.NoError(t, err)
		day = day.Add(24 * time.Hour)
	}
}

func TestCertificateServiceIssueAtThreshold(t *testing.T) {
	svc, regs, attendance, notifier := newCertificateFixture(t)
	regs.put(attendedRegistration("r1"))
	markDays(t, attendance, "r1", 3, 1) // 75% exactly

	issued, err := svc.Issue(context.Background(), "r1", organizerClaims("org-1"))
	require.NoError(t, err)
	assert.InDelta(t, 75.0, issued.AttendanceRate, 0.01)
	assert.NotEmpty(t, issued.DownloadToken)

	stored := regs.get("r1")
	require.NotNil(t, stored.CertificateURL)
	require.NotNil(t, stored.CertificateIssuedAt)
	assert.NotEmpty(t, notifier.notificationsFor("vol-1"))
}

func TestCertificateServiceIssueBelowThreshold(t *testing.T) {
	svc, regs, attendance, _ := newCertificateFixture(t)
	regs.put(attendedRegistration("r1"))
	markDays(t, attendance, "r1", 2, 1) // 66.7%

	_, err := svc.Issue(context.Background(), "r1", organizerClaims("org-1"))
	assertErrorCode(t, err, appErrors.ErrAttendanceThreshold.Code)
}

func TestCertificateServiceIssueWithoutRecords(t *testing.T) {
	svc, regs, _, _ := newCertificateFixture(t)
	regs.put(attendedRegistration("r1"))

	_, err := svc.Issue(context.Background(), "r1", organizerClaims("org-1"))
	assertErrorCode(t, err, appErrors.ErrNoAttendanceRecords.Code)
}

func TestCertificateServiceIssueRequiresCompletedEvent(t *testing.T) {
	svc, regs, attendance, _ := newCertificateFixture(t)
	reg := attendedRegistration("r1")
	reg.EventStatus = models.EventStatusPublished
	regs.put(reg)
	markDays(t, attendance, "r1", 4, 0)

	_, err := svc.Issue(context.Background(), "r1", organizerClaims("org-1"))
	assertErrorCode(t, err, appErrors.ErrInvalidStateTransition.Code)
}

func TestCertificateServiceIssueRequiresOrganizer(t *testing.T) {
	svc, regs, attendance, _ := newCertificateFixture(t)
	regs.put(attendedRegistration("r1"))
	markDays(t, attendance, "r1", 4, 0)

	_, err := svc.Issue(context.Background(), "r1", organizerClaims("org-2"))
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)

	_, err = svc.Issue(context.Background(), "r1", adminClaims("admin-1"))
	require.NoError(t, err)
}

func TestCertificateServiceReissueOverwrites(t *testing.T) {
	svc, regs, attendance, _ := newCertificateFixture(t)
	regs.put(attendedRegistration("r1"))
	markDays(t, attendance, "r1", 4, 0)

	first, err := svc.Issue(context.Background(), "r1", organizerClaims("org-1"))
	require.NoError(t, err)
	second, err := svc.Issue(context.Background(), "r1", organizerClaims("org-1"))
	require.NoError(t, err)
	assert.False(t, second.IssuedAt.Before(first.IssuedAt))

	stored := regs.get("r1")
	require.NotNil(t, stored.CertificateURL)
	assert.Equal(t, "r1.pdf", *stored.CertificateURL)
}

func TestCertificateServiceDownloadRoundTrip(t *testing.T) {
	svc, regs, attendance, _ := newCertificateFixture(t)
	regs.put(attendedRegistration("r1"))
	markDays(t, attendance, "r1", 4, 0)

	issued, err := svc.Issue(context.Background(), "r1", organizerClaims("org-1"))
	require.NoError(t, err)

	file, filename, err := svc.Download(context.Background(), issued.DownloadToken)
	require.NoError(t, err)
	defer file.Close()
	assert.Contains(t, filename, "r1")

	head := make([]byte, 4)
	_, err = io.ReadFull(file, head)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(head))
}

func TestCertificateServiceDownloadRejectsTamperedToken(t *testing.T) {
	svc, regs, attendance, _ := newCertificateFixture(t)
	regs.put(attendedRegistration("r1"))
	markDays(t, attendance, "r1", 4, 0)

	issued, err := svc.Issue(context.Background(), "r1", organizerClaims("org-1"))
	require.NoError(t, err)

	tampered := strings.Replace(issued.DownloadToken, "r1", "r2", 1)
	_, _, err = svc.Download(context.Background(), tampered)
	assertErrorCode(t, err, appErrors.ErrUnauthorized.Code)
}

func TestCertificateServiceDownloadLinkVisibility(t *testing.T) {
	svc, regs, attendance, _ := newCertificateFixture(t)
	regs.put(attendedRegistration("r1"))
	markDays(t, attendance, "r1", 4, 0)

	_, err := svc.Issue(context.Background(), "r1", organizerClaims("org-1"))
	require.NoError(t, err)

	_, err = svc.DownloadLink(context.Background(), "r1", volunteerClaims("vol-9"))
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)

	link, err := svc.DownloadLink(context.Background(), "r1", volunteerClaims("vol-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, link.DownloadToken)
}
