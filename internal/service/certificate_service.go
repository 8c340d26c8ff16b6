package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/volunteerhub/vms-api/internal/models"
	"github.com/volunteerhub/vms-api/pkg/certificate"
	appErrors "github.com/volunteerhub/vms-api/pkg/errors"
)

type certificateRegistrations interface {
	FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error)
	SetCertificate(ctx context.Context, id, url string, issuedAt time.Time) error
}

type attendanceSummarizer interface {
	Summary(ctx context.Context, registrationID string) (*models.AttendanceSummary, error)
}

type certificateRenderer interface {
	Render(d certificate.Details) ([]byte, error)
}

type certificateStore interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
}

type downloadSigner interface {
	Generate(registrationID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (registrationID, relPath string, expiresAt time.Time, err error)
}

// IssuedCertificate is the outcome of issuing a certificate.
type IssuedCertificate struct {
	RegistrationID string    `json:"registration_id"`
	AttendanceRate float64   `json:"attendance_rate"`
	DownloadToken  string    `json:"download_token"`
	ExpiresAt      time.Time `json:"expires_at"`
	IssuedAt       time.Time `json:"issued_at"`
}

// CertificateService evaluates certificate eligibility against the
// attendance threshold, renders the document, and signs download tokens.
type CertificateService struct {
	registrations certificateRegistrations
	attendance    attendanceSummarizer
	renderer      certificateRenderer
	store         certificateStore
	signer        downloadSigner
	notifier      notificationSink
	threshold     float64
	logger        *zap.Logger
}

// NewCertificateService constructs CertificateService.
func NewCertificateService(registrations certificateRegistrations, attendance attendanceSummarizer, renderer certificateRenderer, store certificateStore, signer downloadSigner, notifier notificationSink, threshold float64, logger *zap.Logger) *CertificateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold <= 0 {
		threshold = 75.0
	}
	return &CertificateService{
		registrations: registrations,
		attendance:    attendance,
		renderer:      renderer,
		store:         store,
		signer:        signer,
		notifier:      notifier,
		threshold:     threshold,
		logger:        logger,
	}
}

// Issue renders and stores a certificate for a registration whose
// attendance meets the threshold. Re-issuing overwrites the prior
// document. Event organizer or admin.
func (s *CertificateService) Issue(ctx context.Context, registrationID string, actor *models.JWTClaims) (*IssuedCertificate, error) {
	detail, err := s.loadRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if actor == nil || (!actor.IsAdmin() && actor.UserID != detail.OrganizerID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "actor does not manage this event")
	}
	if detail.EventStatus != models.EventStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition, "certificates are issued after the event completes")
	}

	summary, err := s.attendance.Summary(ctx, registrationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to summarise attendance")
	}
	if summary.Total == 0 {
		return nil, appErrors.Clone(appErrors.ErrNoAttendanceRecords, "")
	}
	rate := summary.Percentage()
	if rate < s.threshold {
		return nil, appErrors.Clone(appErrors.ErrAttendanceThreshold,
			fmt.Sprintf("attendance %.1f%% is below the required %.0f%%", rate, s.threshold))
	}

	issuedAt := time.Now().UTC()
	pdf, err := s.renderer.Render(certificate.Details{
		VolunteerName:  detail.VolunteerName,
		EventTitle:     detail.EventTitle,
		OrganizerName:  detail.OrganizerName,
		EventDate:      detail.EventStartAt,
		AttendanceRate: rate,
		IssuedAt:       issuedAt,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render certificate")
	}

	relPath := fmt.Sprintf("%s.pdf", registrationID)
	if _, err := s.store.Save(relPath, pdf); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store certificate")
	}
	if err := s.registrations.SetCertificate(ctx, registrationID, relPath, issuedAt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record certificate")
	}

	token, expiresAt, err := s.signer.Generate(registrationID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}

	message := fmt.Sprintf("Your volunteering certificate for %q is ready for download.", detail.EventTitle)
	s.notifier.Notify(ctx, detail.VolunteerID, "Certificate issued", message, models.NotificationSuccess)
	s.notifier.SendEmail(detail.VolunteerEmail, "Certificate issued", message)

	s.logger.Info("certificate issued",
		zap.String("registration_id", registrationID),
		zap.Float64("attendance_rate", rate))
	return &IssuedCertificate{
		RegistrationID: registrationID,
		AttendanceRate: rate,
		DownloadToken:  token,
		ExpiresAt:      expiresAt,
		IssuedAt:       issuedAt,
	}, nil
}

// DownloadLink signs a fresh download token for an issued certificate.
// Visible to the registration's volunteer, the organizer, and admins.
func (s *CertificateService) DownloadLink(ctx context.Context, registrationID string, actor *models.JWTClaims) (*IssuedCertificate, error) {
	detail, err := s.loadRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if actor == nil || (!actor.IsAdmin() && actor.UserID != detail.OrganizerID && actor.UserID != detail.VolunteerID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "certificate is not visible to this actor")
	}
	if detail.CertificateURL == nil || detail.CertificateIssuedAt == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no certificate issued for this registration")
	}

	token, expiresAt, err := s.signer.Generate(registrationID, *detail.CertificateURL)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	return &IssuedCertificate{
		RegistrationID: registrationID,
		DownloadToken:  token,
		ExpiresAt:      expiresAt,
		IssuedAt:       *detail.CertificateIssuedAt,
	}, nil
}

// Download validates a signed token and opens the stored document. The
// token itself is the authorization; no session is required.
func (s *CertificateService) Download(ctx context.Context, token string) (*os.File, string, error) {
	registrationID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid or expired download token")
	}

	file, err := s.store.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "certificate file not found")
	}
	filename := fmt.Sprintf("certificate-%s.pdf", registrationID)
	return file, filename, nil
}

func (s *CertificateService) loadRegistration(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	detail, err := s.registrations.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	return detail, nil
}
