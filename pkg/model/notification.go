package model

import (
	"github.com/pkg/errors"
)

type NotificationKind string

const (
	NotifyHostelRequest = NotificationKind("hostel_request")
	NotifyDonorFinal    = NotificationKind("donor_final")
	NotifyOperatorAlert = NotificationKind("operator_alert")
)

// Notification is an outbound message. ThreadID, when set, keeps the
// reply in an existing conversation.
type Notification struct {
	ID       string           `json:"id"`
	Kind     NotificationKind `json:"kind"`
	To       []string         `json:"to"`
	Subject  string           `json:"subject"`
	Body     string           `json:"body"`
	ReplyTo  string           `json:"reply_to,omitempty"`
	ThreadID string           `json:"thread_id,omitempty"`
}

func (n *Notification) Validate() error {
	if len(n.To) == 0 {
		return errors.Errorf("notification %q has no recipients", n.ID)
	}
	if n.Subject == "" {
		return errors.Errorf("notification %q has no subject", n.ID)
	}
	return nil
}
