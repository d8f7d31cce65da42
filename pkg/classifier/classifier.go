// Package classifier reads a hostel conversation and decides which open
// allocations it confirms. Backends are non-deterministic, so callers only
// ever see the closed Status enum below or a *Failure.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/mxpv/pledgesync/pkg/model"
)

type Status string

const (
	ConfirmedAll = Status("CONFIRMED_ALL")
	Partial      = Status("PARTIAL")
	Ambiguous    = Status("AMBIGUOUS")
	Query        = Status("QUERY")
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case ConfirmedAll, Partial, Ambiguous, Query:
		return Status(s), nil
	default:
		return "", errors.Wrapf(model.ErrUnknownStatus, "classifier status %q", s)
	}
}

// Confirms reports whether the verdict names allocations to verify.
func (s Status) Confirms() bool {
	return s == ConfirmedAll || s == Partial
}

// Escalates reports whether the verdict needs an operator.
func (s Status) Escalates() bool {
	return s == Ambiguous || s == Query
}

type Verdict struct {
	Status            Status   `json:"status"`
	ConfirmedAllocIDs []string `json:"confirmed_alloc_ids"`
	Reasoning         string   `json:"reasoning"`
}

// Classifier is the semantic oracle consulted by reconciliation.
type Classifier interface {
	Classify(ctx context.Context, conversation string, candidates []model.Candidate) (*Verdict, error)
}

// Failure means no verdict was produced (network, parse or breaker errors).
// It is never a verdict: the signal is simply retried on the next run.
type Failure struct {
	Err error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("classifier failure: %v", f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func fail(err error) error {
	return &Failure{Err: err}
}

// IsFailure reports whether err is (or wraps) a *Failure.
func IsFailure(err error) bool {
	var target *Failure
	return errors.As(err, &target)
}

// ParseVerdict decodes a JSON verdict. Unknown statuses are rejected and
// confirmed ids are dropped for statuses that don't confirm anything.
func ParseVerdict(data []byte) (*Verdict, error) {
	var raw struct {
		Status            string   `json:"status"`
		ConfirmedAllocIDs []string `json:"confirmed_alloc_ids"`
		Reasoning         string   `json:"reasoning"`
	}

	text := strings.TrimSpace(string(data))
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode verdict")
	}

	status, err := ParseStatus(strings.ToUpper(strings.TrimSpace(raw.Status)))
	if err != nil {
		return nil, err
	}

	verdict := &Verdict{
		Status:    status,
		Reasoning: raw.Reasoning,
	}

	if status.Confirms() {
		seen := make(map[string]struct{}, len(raw.ConfirmedAllocIDs))
		for _, id := range raw.ConfirmedAllocIDs {
			id = strings.TrimSpace(id)
			if _, dup := seen[id]; id == "" || dup {
				continue
			}
			seen[id] = struct{}{}
			verdict.ConfirmedAllocIDs = append(verdict.ConfirmedAllocIDs, id)
		}
	}

	return verdict, nil
}
