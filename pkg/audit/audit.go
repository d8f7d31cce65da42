package audit

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mxpv/pledgesync/pkg/metrics"
	"github.com/mxpv/pledgesync/pkg/model"
)

const maxAttempts = 3

type Store interface {
	AddAudit(ctx context.Context, record *model.AuditRecord) error
	WalkAudit(ctx context.Context, targetID string, cb func(record *model.AuditRecord) error) error
}

type IDGenerator interface {
	Generate() (string, error)
}

// Recorder appends audit records to the ledger store. Recording is best
// effort: failures are logged and counted but never returned to the caller.
type Recorder struct {
	store Store
	ids   IDGenerator
	now   func() time.Time
}

func NewRecorder(store Store, ids IDGenerator) *Recorder {
	return &Recorder{
		store: store,
		ids:   ids,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *Recorder) Record(ctx context.Context, record model.AuditRecord) {
	logger := log.WithFields(log.Fields{
		"event":  record.EventType,
		"target": record.TargetID,
		"actor":  record.Actor,
	})

	if record.Actor == "" {
		record.Actor = model.DefaultActor
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = r.now()
	}

	if record.ID == "" {
		id, err := r.ids.Generate()
		if err != nil {
			logger.WithError(err).Error("failed to generate audit record id")
			metrics.RecordAuditFailure()
			return
		}
		record.ID = id
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = r.store.AddAudit(ctx, &record); err == nil || errors.Is(err, model.ErrAlreadyExists) {
			logger.Debug("audit record saved")
			return
		}
		logger.WithError(err).Warnf("failed to save audit record (attempt %d)", attempt)
	}

	logger.WithError(err).Error("giving up on audit record")
	metrics.RecordAuditFailure()
}

// Trail returns the audit records of a target in creation order.
func (r *Recorder) Trail(ctx context.Context, targetID string) ([]*model.AuditRecord, error) {
	var records []*model.AuditRecord
	if err := r.store.WalkAudit(ctx, targetID, func(record *model.AuditRecord) error {
		records = append(records, record)
		return nil
	}); err != nil {
		return nil, errors.Wrapf(err, "failed to read audit trail of %s", targetID)
	}
	return records, nil
}
