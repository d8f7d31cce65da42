package model

import (
	"fmt"
	"strings"
	"time"
)

// Signal is an inbound confirmation conversation (a mail thread).
type Signal struct {
	ID       string
	Subject  string
	Messages []*Message
	Labels   []string
}

type Message struct {
	ID   string
	From string
	Date time.Time
	Body string
}

// Latest returns the newest message of the conversation, nil if empty.
func (s *Signal) Latest() *Message {
	var latest *Message
	for _, msg := range s.Messages {
		if latest == nil || !msg.Date.Before(latest.Date) {
			latest = msg
		}
	}
	return latest
}

// Conversation renders the thread as plain text, oldest message first.
func (s *Signal) Conversation() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", s.Subject)
	for _, msg := range s.Messages {
		fmt.Fprintf(&b, "\n--- From: %s, Date: %s\n", msg.From, msg.Date.UTC().Format(time.RFC3339))
		b.WriteString(strings.TrimSpace(msg.Body))
		b.WriteString("\n")
	}
	return b.String()
}

func (s *Signal) HasLabel(name string) bool {
	for _, label := range s.Labels {
		if label == name {
			return true
		}
	}
	return false
}
