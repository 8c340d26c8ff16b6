package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/volunteerhub/vms-api/internal/models"
	appErrors "github.com/volunteerhub/vms-api/pkg/errors"
)

type memFeedbackRepo struct {
	mu      sync.Mutex
	entries map[string]models.FeedbackDetail
	seq     int
}

func newMemFeedbackRepo() *memFeedbackRepo {
	return &memFeedbackRepo{entries: make(map[string]models.FeedbackDetail)}
}

func (m *memFeedbackRepo) Create(_ context.Context, feedback *models.Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if feedback.ID == "" {
		feedback.ID = "fb-1"
	}
	m.entries[feedback.ID] = models.FeedbackDetail{Feedback: *feedback}
	return nil
}

func (m *memFeedbackRepo) FindDetailByID(_ context.Context, id string) (*models.FeedbackDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.entries[id]; ok {
		return &d, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memFeedbackRepo) Update(_ context.Context, id, comment string, rating int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.entries[id]
	if !ok {
		return sql.ErrNoRows
	}
	d.Comment = comment
	d.Rating = rating
	m.entries[id] = d
	return nil
}

func (m *memFeedbackRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *memFeedbackRepo) ListByEvent(_ context.Context, eventID string) ([]models.FeedbackDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.FeedbackDetail
	for _, d := range m.entries {
		if d.EventID == eventID {
			out = append(out, d)
		}
	}
	return out, nil
}

func newFeedbackFixture() (*FeedbackService, *memFeedbackRepo, *memRegistrationRepo) {
	events := newMemEventRepo()
	regs := newMemRegistrationRepo(events)
	repo := newMemFeedbackRepo()
	svc := NewFeedbackService(repo, regs, validator.New(), zap.NewNop())
	return svc, repo, regs
}

func TestFeedbackServiceSubmitRequiresAttendedRegistration(t *testing.T) {
	svc, _, regs := newFeedbackFixture()
	regs.put(models.RegistrationDetail{
		Registration: models.Registration{ID: "r1", EventID: "e1", VolunteerID: "vol-1", Status: models.RegistrationStatusAttended},
		OrganizerID:  "org-1",
	})

	fb, err := svc.Submit(context.Background(), "r1", "vol-1", SubmitFeedbackRequest{Comment: "great event", Rating: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, fb.Rating)

	regs.put(models.RegistrationDetail{
		Registration: models.Registration{ID: "r2", EventID: "e1", VolunteerID: "vol-1", Status: models.RegistrationStatusApproved},
		OrganizerID:  "org-1",
	})
	_, err = svc.Submit(context.Background(), "r2", "vol-1", SubmitFeedbackRequest{Comment: "early", Rating: 4})
	assertErrorCode(t, err, appErrors.ErrInvalidStateTransition.Code)
}

func TestFeedbackServiceSubmitWrongVolunteer(t *testing.T) {
	svc, _, regs := newFeedbackFixture()
	regs.put(models.RegistrationDetail{
		Registration: models.Registration{ID: "r1", EventID: "e1", VolunteerID: "vol-1", Status: models.RegistrationStatusAttended},
		OrganizerID:  "org-1",
	})

	_, err := svc.Submit(context.Background(), "r1", "vol-2", SubmitFeedbackRequest{Comment: "not mine", Rating: 3})
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)
}

func TestFeedbackServiceSubmitValidatesRating(t *testing.T) {
	svc, _, regs := newFeedbackFixture()
	regs.put(models.RegistrationDetail{
		Registration: models.Registration{ID: "r1", EventID: "e1", VolunteerID: "vol-1", Status: models.RegistrationStatusAttended},
		OrganizerID:  "org-1",
	})

	_, err := svc.Submit(context.Background(), "r1", "vol-1", SubmitFeedbackRequest{Comment: "x", Rating: 6})
	assertErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestFeedbackServiceUpdateOwnerOnly(t *testing.T) {
	svc, repo, _ := newFeedbackFixture()
	repo.entries["fb-1"] = models.FeedbackDetail{
		Feedback:    models.Feedback{ID: "fb-1", RegistrationID: "r1", Comment: "ok", Rating: 3},
		VolunteerID: "vol-1",
		EventID:     "e1",
	}

	updated, err := svc.Update(context.Background(), "fb-1", "vol-1", SubmitFeedbackRequest{Comment: "better than ok", Rating: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Rating)

	_, err = svc.Update(context.Background(), "fb-1", "vol-2", SubmitFeedbackRequest{Comment: "hijack", Rating: 1})
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)
}

func TestFeedbackServiceDeleteAuthorization(t *testing.T) {
	svc, repo, regs := newFeedbackFixture()
	regs.put(models.RegistrationDetail{
		Registration: models.Registration{ID: "r1", EventID: "e1", VolunteerID: "vol-1", Status: models.RegistrationStatusAttended},
		OrganizerID:  "org-1",
	})
	seed := func() {
		repo.entries["fb-1"] = models.FeedbackDetail{
			Feedback:    models.Feedback{ID: "fb-1", RegistrationID: "r1", Comment: "spam", Rating: 1},
			VolunteerID: "vol-1",
			EventID:     "e1",
		}
	}

	seed()
	err := svc.Delete(context.Background(), "fb-1", volunteerClaims("vol-2"))
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)

	// The event organizer may moderate.
	err = svc.Delete(context.Background(), "fb-1", organizerClaims("org-1"))
	require.NoError(t, err)

	seed()
	err = svc.Delete(context.Background(), "fb-1", volunteerClaims("vol-1"))
	require.NoError(t, err)
}
