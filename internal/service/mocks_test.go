package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/volunteerhub/vms-api/internal/models"
	"github.com/volunteerhub/vms-api/internal/repository"
)

type sentNotification struct {
	Recipient string
	Title     string
	Message   string
	Severity  models.NotificationSeverity
}

type sentEmail struct {
	To      string
	Subject string
}

type stubNotifier struct {
	mu     sync.Mutex
	notes  []sentNotification
	emails []sentEmail
}

func (n *stubNotifier) Notify(_ context.Context, recipientID, title, message string, severity models.NotificationSeverity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, sentNotification{Recipient: recipientID, Title: title, Message: message, Severity: severity})
}

func (n *stubNotifier) SendEmail(to, subject, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emails = append(n.emails, sentEmail{To: to, Subject: subject})
}

func (n *stubNotifier) notificationsFor(recipient string) []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentNotification
	for _, note := range n.notes {
		if note.Recipient == recipient {
			out = append(out, note)
		}
	}
	return out
}

type memEventRepo struct {
	mu     sync.Mutex
	events map[string]models.Event
	seq    int
}

func newMemEventRepo() *memEventRepo {
	return &memEventRepo{events: make(map[string]models.Event)}
}

func (m *memEventRepo) put(e models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ID] = e
}

func (m *memEventRepo) get(id string) models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[id]
}

func (m *memEventRepo) FindByID(_ context.Context, id string) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.events[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memEventRepo) FindDetailByID(_ context.Context, id string) (*models.EventDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.events[id]; ok {
		return &models.EventDetail{Event: e}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memEventRepo) List(_ context.Context, filter models.EventFilter) ([]models.EventDetail, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.EventDetail
	for _, e := range m.events {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, models.EventDetail{Event: e})
	}
	return out, len(out), nil
}

func (m *memEventRepo) Create(_ context.Context, event *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.ID == "" {
		m.seq++
		event.ID = fmt.Sprintf("event-%d", m.seq)
	}
	m.events[event.ID] = *event
	return nil
}

func (m *memEventRepo) Update(_ context.Context, event *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	live, ok := m.events[event.ID]
	if !ok {
		return sql.ErrNoRows
	}
	// Mirrors the SQL guard: the write never lowers capacity below the
	// live registration count, and never touches the counter itself.
	if live.CurrentVolunteers > event.RequiredVolunteers {
		return repository.ErrCapacityBelowRegistered
	}
	event.CurrentVolunteers = live.CurrentVolunteers
	m.events[event.ID] = *event
	return nil
}

func (m *memEventRepo) UpdateStatus(_ context.Context, id string, status models.EventStatus, cancellationReason *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return sql.ErrNoRows
	}
	e.Status = status
	if cancellationReason != nil {
		e.CancellationReason = cancellationReason
	}
	m.events[id] = e
	return nil
}

func (m *memEventRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, id)
	return nil
}

func (m *memEventRepo) claimSlot(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok || e.CurrentVolunteers >= e.RequiredVolunteers {
		return false
	}
	e.CurrentVolunteers++
	m.events[id] = e
	return true
}

func (m *memEventRepo) releaseSlot(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return
	}
	if e.CurrentVolunteers > 0 {
		e.CurrentVolunteers--
	}
	m.events[id] = e
}

type memRegistrationRepo struct {
	mu     sync.Mutex
	events *memEventRepo
	regs   map[string]models.RegistrationDetail
	seq    int
}

func newMemRegistrationRepo(events *memEventRepo) *memRegistrationRepo {
	return &memRegistrationRepo{events: events, regs: make(map[string]models.RegistrationDetail)}
}

func (m *memRegistrationRepo) put(d models.RegistrationDetail) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[d.ID] = d
}

func (m *memRegistrationRepo) get(id string) models.RegistrationDetail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[id]
}

func (m *memRegistrationRepo) FindDetailByID(_ context.Context, id string) (*models.RegistrationDetail, error) {
	m.mu.Lock()
	d, ok := m.regs[id]
	m.mu.Unlock()
	if !ok {
		return nil, sql.ErrNoRows
	}
	// Mirror the store's join: event columns reflect the live row.
	if e := m.events.get(d.EventID); e.ID != "" {
		d.EventTitle = e.Title
		d.EventStartAt = e.StartAt
		d.EventStatus = e.Status
		d.OrganizerID = e.OrganizerID
	}
	return &d, nil
}

func (m *memRegistrationRepo) Exists(_ context.Context, eventID, volunteerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.regs {
		if d.EventID == eventID && d.VolunteerID == volunteerID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRegistrationRepo) Join(_ context.Context, eventID, volunteerID string) (*models.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.regs {
		if d.EventID == eventID && d.VolunteerID == volunteerID {
			return nil, repository.ErrDuplicateRegistration
		}
	}
	if !m.events.claimSlot(eventID) {
		return nil, repository.ErrCapacityFull
	}
	m.seq++
	reg := models.Registration{
		ID:          fmt.Sprintf("reg-%d", m.seq),
		EventID:     eventID,
		VolunteerID: volunteerID,
		Status:      models.RegistrationStatusPending,
		JoinedAt:    time.Now().UTC(),
	}
	event := m.events.get(eventID)
	m.regs[reg.ID] = models.RegistrationDetail{
		Registration: reg,
		EventTitle:   event.Title,
		EventStartAt: event.StartAt,
		EventStatus:  event.Status,
		OrganizerID:  event.OrganizerID,
	}
	return &reg, nil
}

func (m *memRegistrationRepo) CancelAndRelease(_ context.Context, id string) (models.RegistrationStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.regs[id]
	if !ok {
		return "", sql.ErrNoRows
	}
	delete(m.regs, id)
	if d.Status.CountsTowardCapacity() {
		m.events.releaseSlot(d.EventID)
	}
	return d.Status, nil
}

func (m *memRegistrationRepo) UpdateStatus(_ context.Context, id string, status models.RegistrationStatus, approvedAt *time.Time, rejectionReason *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.regs[id]
	if !ok {
		return sql.ErrNoRows
	}
	d.Status = status
	if approvedAt != nil {
		d.ApprovedAt = approvedAt
	}
	if rejectionReason != nil {
		d.RejectionReason = rejectionReason
	}
	m.regs[id] = d
	return nil
}

func (m *memRegistrationRepo) SetCertificate(_ context.Context, id, url string, issuedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.regs[id]
	if !ok {
		return sql.ErrNoRows
	}
	d.CertificateURL = &url
	d.CertificateIssuedAt = &issuedAt
	m.regs[id] = d
	return nil
}

func (m *memRegistrationRepo) ListByEvent(_ context.Context, eventID string) ([]models.RegistrationDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RegistrationDetail
	for _, d := range m.regs {
		if d.EventID == eventID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memRegistrationRepo) ListByEventAndStatuses(_ context.Context, eventID string, statuses []models.RegistrationStatus) ([]models.RegistrationDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RegistrationDetail
	for _, d := range m.regs {
		if d.EventID != eventID {
			continue
		}
		for _, s := range statuses {
			if d.Status == s {
				out = append(out, d)
				break
			}
		}
	}
	return out, nil
}

func (m *memRegistrationRepo) ListByVolunteer(_ context.Context, volunteerID string) ([]models.RegistrationDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RegistrationDetail
	for _, d := range m.regs {
		if d.VolunteerID == volunteerID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memRegistrationRepo) ListPendingByOrganizer(_ context.Context, organizerID string) ([]models.RegistrationDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RegistrationDetail
	for _, d := range m.regs {
		if d.OrganizerID == organizerID && d.Status == models.RegistrationStatusPending {
			out = append(out, d)
		}
	}
	return out, nil
}

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]models.User
}

func newMemUserRepo(users ...models.User) *memUserRepo {
	m := &memUserRepo{users: make(map[string]models.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memUserRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memUserRepo) ListAdmins(_ context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, u := range m.users {
		if u.Role == models.RoleAdmin && u.Active {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memUserRepo) addPoints(id string, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return
	}
	u.Points += delta
	m.users[id] = u
}

func (m *memUserRepo) points(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id].Points
}

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	hits    int
	deletes int
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.entries[key]
	if !ok {
		return fmt.Errorf("cache miss")
	}
	m.hits++
	return json.Unmarshal(raw, dest)
}

func (m *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = raw
	return nil
}

func (m *memCache) DeleteByPattern(_ context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	m.deletes++
	return nil
}

// memAttendanceRepo mirrors the store's mark semantics: one row per
// (registration, date), points awarded only when a date first becomes
// PRESENT.
type memAttendanceRepo struct {
	mu      sync.Mutex
	regs    *memRegistrationRepo
	users   *memUserRepo
	records map[string]models.Attendance
}

func newMemAttendanceRepo(regs *memRegistrationRepo, users *memUserRepo) *memAttendanceRepo {
	return &memAttendanceRepo{regs: regs, users: users, records: make(map[string]models.Attendance)}
}

func attendanceKey(registrationID string, date time.Time) string {
	return registrationID + "|" + date.Format("2006-01-02")
}

func (m *memAttendanceRepo) Mark(_ context.Context, registrationID, volunteerID string, date time.Time, status models.AttendanceStatus, pointAward int) (*repository.MarkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := attendanceKey(registrationID, date)
	prior, hadPrior := m.records[key]

	record := models.Attendance{
		ID:             key,
		RegistrationID: registrationID,
		Date:           date,
		Status:         status,
		UpdatedAt:      time.Now().UTC(),
	}
	m.records[key] = record

	result := &repository.MarkResult{Attendance: record}
	if status == models.AttendanceStatusPresent && (!hadPrior || prior.Status != models.AttendanceStatusPresent) {
		if d := m.regs.get(registrationID); d.ID != "" {
			d.Status = models.RegistrationStatusAttended
			m.regs.put(d)
		}
		m.users.addPoints(volunteerID, pointAward)
		result.PointsAwarded = true
	}
	return result, nil
}

func (m *memAttendanceRepo) Summary(_ context.Context, registrationID string) (*models.AttendanceSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary := &models.AttendanceSummary{}
	for _, r := range m.records {
		if r.RegistrationID != registrationID {
			continue
		}
		summary.Total++
		if r.Status == models.AttendanceStatusPresent {
			summary.Present++
		}
	}
	return summary, nil
}

func (m *memAttendanceRepo) ListByRegistration(_ context.Context, registrationID string) ([]models.Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Attendance
	for _, r := range m.records {
		if r.RegistrationID == registrationID {
			out = append(out, r)
		}
	}
	return out, nil
}

func organizerClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleOrganizer}
}

func adminClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleAdmin}
}

func volunteerClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleVolunteer}
}
