package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/volunteerhub/vms-api/internal/models"
	"github.com/volunteerhub/vms-api/pkg/config"
	"github.com/volunteerhub/vms-api/pkg/jobs"
)

type notificationWriter interface {
	Create(ctx context.Context, n *models.Notification) error
}

// EmailSender delivers a single plain-text message.
type EmailSender interface {
	Send(to, subject, body string) error
}

// Notifier is the notification sink for lifecycle side effects. In-app
// notifications are persisted synchronously; email goes through a
// background dispatcher. Both are fire-and-forget: failures are logged
// and never surfaced to the triggering transition.
type Notifier struct {
	notifications notificationWriter
	mailer        EmailSender
	queue         *jobs.Dispatcher
	logger        *zap.Logger
}

// NewNotifier constructs the sink and its email dispatcher.
func NewNotifier(notifications notificationWriter, mailer EmailSender, cfg config.NotificationsConfig, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{notifications: notifications, mailer: mailer, logger: logger}
	n.queue = jobs.NewDispatcher(n.deliver, jobs.DispatcherConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return n
}

// Start begins email dispatch workers.
func (n *Notifier) Start(ctx context.Context) {
	n.queue.Start(ctx)
}

// Stop drains the dispatch workers.
func (n *Notifier) Stop() {
	n.queue.Stop()
}

// Notify persists an in-app notification for the recipient.
func (n *Notifier) Notify(ctx context.Context, recipientID, title, message string, severity models.NotificationSeverity) {
	if recipientID == "" {
		return
	}
	notification := &models.Notification{
		RecipientID: recipientID,
		Title:       title,
		Message:     message,
		Severity:    severity,
	}
	if err := n.notifications.Create(ctx, notification); err != nil {
		n.logger.Warn("failed to persist notification",
			zap.String("recipient_id", recipientID),
			zap.String("title", title),
			zap.Error(err))
	}
}

// SendEmail enqueues an email for async delivery.
func (n *Notifier) SendEmail(to, subject, body string) {
	if n.mailer == nil || to == "" {
		return
	}
	if err := n.queue.Enqueue(jobs.Email{To: to, Subject: subject, Body: body}); err != nil {
		n.logger.Warn("failed to enqueue email", zap.String("to", to), zap.Error(err))
	}
}

func (n *Notifier) deliver(_ context.Context, e jobs.Email) error {
	return n.mailer.Send(e.To, e.Subject, e.Body)
}
