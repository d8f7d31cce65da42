// Package mailbox talks to the mail substrate: inbound confirmation threads
// from the hostel and outbound notifications to hostel, donors and operators.
package mailbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mxpv/pledgesync/pkg/model"
)

type Mailbox interface {
	Search(ctx context.Context, query string, limit int) ([]*model.Signal, error)
	AddLabel(ctx context.Context, signal *model.Signal, name string) error
	RemoveLabel(ctx context.Context, signal *model.Signal, name string) error
}

type Mailer interface {
	Send(ctx context.Context, notification *model.Notification) (string, error)
}

// Inbox turns mailbox labels into a processed-marker set. A signal is
// pending until it carries either the processed or the manual review label.
type Inbox struct {
	mailbox   Mailbox
	query     string
	processed string
	manual    string
}

func NewInbox(mailbox Mailbox, query, processedLabel, manualReviewLabel string) *Inbox {
	return &Inbox{
		mailbox:   mailbox,
		query:     query,
		processed: processedLabel,
		manual:    manualReviewLabel,
	}
}

// Pending returns up to limit signals that were neither processed nor escalated.
func (i *Inbox) Pending(ctx context.Context, limit int) ([]*model.Signal, error) {
	query := fmt.Sprintf("%s -label:%s -label:%s", i.query, searchLabel(i.processed), searchLabel(i.manual))

	signals, err := i.mailbox.Search(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search inbox")
	}

	// The search filter is best effort, labels on the thread are authoritative
	pending := make([]*model.Signal, 0, len(signals))
	for _, signal := range signals {
		if signal.HasLabel(i.processed) || signal.HasLabel(i.manual) {
			log.WithField("signal_id", signal.ID).Debug("skipping labeled signal")
			continue
		}
		pending = append(pending, signal)
	}

	return pending, nil
}

func (i *Inbox) MarkProcessed(ctx context.Context, signal *model.Signal) error {
	if err := i.mailbox.AddLabel(ctx, signal, i.processed); err != nil {
		return errors.Wrapf(err, "failed to mark %s processed", signal.ID)
	}
	signal.Labels = append(signal.Labels, i.processed)
	return nil
}

// MarkManualReview escalates a signal and makes sure it is not marked processed.
func (i *Inbox) MarkManualReview(ctx context.Context, signal *model.Signal) error {
	if err := i.mailbox.AddLabel(ctx, signal, i.manual); err != nil {
		return errors.Wrapf(err, "failed to mark %s for manual review", signal.ID)
	}

	if signal.HasLabel(i.processed) {
		if err := i.mailbox.RemoveLabel(ctx, signal, i.processed); err != nil {
			return errors.Wrapf(err, "failed to unmark %s processed", signal.ID)
		}
	}

	labels := signal.Labels[:0]
	for _, label := range signal.Labels {
		if label != i.processed {
			labels = append(labels, label)
		}
	}
	signal.Labels = append(labels, i.manual)

	return nil
}

// Gmail search replaces separators in label names with dashes.
func searchLabel(name string) string {
	return strings.NewReplacer("/", "-", " ", "-").Replace(name)
}
