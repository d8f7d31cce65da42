// Package queue delivers outbound notifications either inline or through SQS.
package queue

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mxpv/pledgesync/pkg/metrics"
	"github.com/mxpv/pledgesync/pkg/model"
)

// Notifier accepts a notification for delivery. A nil error only means the
// notification was accepted, not that it reached the recipient.
type Notifier interface {
	Notify(ctx context.Context, notification *model.Notification) error
}

type Mailer interface {
	Send(ctx context.Context, notification *model.Notification) (string, error)
}

// Inline sends notifications right away, used when no queue is configured.
type Inline struct {
	mailer Mailer
}

var _ Notifier = (*Inline)(nil)

func NewInline(mailer Mailer) *Inline {
	return &Inline{mailer: mailer}
}

func (i *Inline) Notify(ctx context.Context, notification *model.Notification) error {
	id, err := i.mailer.Send(ctx, notification)
	metrics.RecordNotification(string(notification.Kind), err == nil)
	if err != nil {
		return errors.Wrapf(err, "failed to deliver notification %s", notification.ID)
	}

	log.WithFields(log.Fields{
		"notification_id": notification.ID,
		"message_id":      id,
	}).Debug("notification delivered")
	return nil
}
