package db

import (
	"context"
	"time"

	"github.com/go-pg/pg"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mxpv/pledgesync/pkg/model"
)

const uniqueViolation = "23505"

type Postgres struct {
	db *pg.DB
}

var _ Storage = (*Postgres)(nil)

func NewPostgres(config *PostgresConfig) (*Postgres, error) {
	opts, err := pg.ParseURL(config.URL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse postgres url")
	}

	log.Infof("connecting to postgres %q", opts.Addr)
	db := pg.Connect(opts)

	// Check database connectivity
	if config.Ping {
		if _, err := db.ExecOne("SELECT 1"); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "failed to check database connectivity")
		}
	}

	if config.Migrate {
		if _, err := db.Exec(pgsql); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "failed to apply schema")
		}
	}

	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error {
	log.Debug("closing database")
	return p.db.Close()
}

func (p *Postgres) Version() (int, error) {
	var version int
	_, err := p.db.QueryOne(pg.Scan(&version), "SELECT version FROM schema_version LIMIT 1")
	if err == pg.ErrNoRows {
		return -1, model.ErrNotFound
	}
	return version, err
}

func (p *Postgres) AddPledge(ctx context.Context, pledge *model.Pledge) error {
	if err := pledge.Validate(); err != nil {
		return err
	}

	return p.insert(ctx, pledge)
}

func (p *Postgres) GetPledge(ctx context.Context, pledgeID string) (*model.Pledge, error) {
	pledge := &model.Pledge{}
	err := p.db.WithContext(ctx).Model(pledge).Where("pledge_id = ?", pledgeID).Select()
	if err != nil {
		return nil, notFound(err)
	}

	if err := pledge.Validate(); err != nil {
		return nil, err
	}

	return pledge, nil
}

func (p *Postgres) UpdatePledge(ctx context.Context, pledgeID string, cb func(pledge *model.Pledge) error) error {
	return p.db.WithContext(ctx).RunInTransaction(func(tx *pg.Tx) error {
		pledge := &model.Pledge{}
		if err := tx.Model(pledge).Where("pledge_id = ?", pledgeID).For("UPDATE").Select(); err != nil {
			return notFound(err)
		}

		if err := pledge.Validate(); err != nil {
			return err
		}

		if err := cb(pledge); err != nil {
			return err
		}

		if pledge.PledgeID != pledgeID {
			return errors.New("can't change pledge ID")
		}

		if err := pledge.Validate(); err != nil {
			return err
		}

		return tx.Update(pledge)
	})
}

func (p *Postgres) WalkPledges(ctx context.Context, cb func(pledge *model.Pledge) error) error {
	var list []*model.Pledge
	if err := p.db.WithContext(ctx).Model(&list).Order("pledge_id ASC").Select(); err != nil {
		return errors.Wrap(err, "failed to query pledges")
	}

	for _, pledge := range list {
		if err := pledge.Validate(); err != nil {
			return err
		}
		if err := cb(pledge); err != nil {
			return err
		}
	}

	return nil
}

func (p *Postgres) AddReceipt(ctx context.Context, receipt *model.Receipt) error {
	if err := receipt.Validate(); err != nil {
		return err
	}

	_, err := p.db.WithContext(ctx).Model(receipt).
		OnConflict("(receipt_id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("verified_amount = EXCLUDED.verified_amount").
		Insert()

	return errors.Wrapf(err, "failed to save receipt %q", receipt.ReceiptID)
}

func (p *Postgres) WalkReceipts(ctx context.Context, pledgeID string, cb func(receipt *model.Receipt) error) error {
	var list []*model.Receipt
	if err := p.db.WithContext(ctx).Model(&list).Where("pledge_id = ?", pledgeID).Order("receipt_id ASC").Select(); err != nil {
		return errors.Wrapf(err, "failed to query receipts of %q", pledgeID)
	}

	for _, receipt := range list {
		if err := receipt.Validate(); err != nil {
			return err
		}
		if err := cb(receipt); err != nil {
			return err
		}
	}

	return nil
}

func (p *Postgres) AddAllocation(ctx context.Context, allocation *model.Allocation) error {
	if err := allocation.Validate(); err != nil {
		return err
	}

	return p.insert(ctx, allocation)
}

func (p *Postgres) GetAllocation(ctx context.Context, pledgeID string, allocID string) (*model.Allocation, error) {
	allocation := &model.Allocation{}
	err := p.db.WithContext(ctx).Model(allocation).
		Where("alloc_id = ?", allocID).
		Where("pledge_id = ?", pledgeID).
		Select()
	if err != nil {
		return nil, notFound(err)
	}

	if err := allocation.Validate(); err != nil {
		return nil, err
	}

	return allocation, nil
}

func (p *Postgres) UpdateAllocation(ctx context.Context, pledgeID string, allocID string, cb func(allocation *model.Allocation) error) error {
	return p.db.WithContext(ctx).RunInTransaction(func(tx *pg.Tx) error {
		allocation := &model.Allocation{}
		err := tx.Model(allocation).
			Where("alloc_id = ?", allocID).
			Where("pledge_id = ?", pledgeID).
			For("UPDATE").
			Select()
		if err != nil {
			return notFound(err)
		}

		if err := allocation.Validate(); err != nil {
			return err
		}

		if err := cb(allocation); err != nil {
			return err
		}

		if allocation.AllocID != allocID || allocation.PledgeID != pledgeID {
			return errors.New("can't change allocation ID")
		}

		if err := allocation.Validate(); err != nil {
			return err
		}

		return tx.Update(allocation)
	})
}

func (p *Postgres) WalkAllocations(ctx context.Context, pledgeID string, cb func(allocation *model.Allocation) error) error {
	var list []*model.Allocation

	query := p.db.WithContext(ctx).Model(&list).Order("pledge_id ASC", "alloc_id ASC")
	if pledgeID != "" {
		query = query.Where("pledge_id = ?", pledgeID)
	}

	if err := query.Select(); err != nil {
		return errors.Wrap(err, "failed to query allocations")
	}

	for _, allocation := range list {
		if err := allocation.Validate(); err != nil {
			return err
		}
		if err := cb(allocation); err != nil {
			return err
		}
	}

	return nil
}

func (p *Postgres) GetNeed(ctx context.Context, cmsID string) (*model.BeneficiaryNeed, error) {
	need := &model.BeneficiaryNeed{}
	if err := p.db.WithContext(ctx).Model(need).Where("cms_id = ?", cmsID).Select(); err != nil {
		return nil, notFound(err)
	}

	return need, nil
}

func (p *Postgres) PutNeed(ctx context.Context, need *model.BeneficiaryNeed) error {
	if need.CmsID == "" {
		return errors.New("beneficiary id is empty")
	}

	_, err := p.db.WithContext(ctx).Model(need).
		OnConflict("(cms_id) DO UPDATE").
		Set("pending_need = EXCLUDED.pending_need").
		Set("updated_at = EXCLUDED.updated_at").
		Insert()

	return errors.Wrapf(err, "failed to save need of %q", need.CmsID)
}

func (p *Postgres) AddAudit(ctx context.Context, record *model.AuditRecord) error {
	return p.insert(ctx, record)
}

func (p *Postgres) WalkAudit(ctx context.Context, targetID string, cb func(record *model.AuditRecord) error) error {
	var list []*model.AuditRecord
	err := p.db.WithContext(ctx).Model(&list).
		Where("target_id = ?", targetID).
		Order("created_at ASC", "id ASC").
		Select()
	if err != nil {
		return errors.Wrapf(err, "failed to query audit trail of %q", targetID)
	}

	for _, record := range list {
		if err := cb(record); err != nil {
			return err
		}
	}

	return nil
}

func (p *Postgres) IncrementStale(ctx context.Context, signalID string) (int, error) {
	var count int
	_, err := p.db.WithContext(ctx).QueryOne(pg.Scan(&count), `
		INSERT INTO signal_attempts (signal_id, stale_count, updated_at) VALUES (?, 1, ?)
		ON CONFLICT (signal_id) DO UPDATE
		SET stale_count = signal_attempts.stale_count + 1, updated_at = EXCLUDED.updated_at
		RETURNING stale_count`, signalID, time.Now().UTC())
	if err != nil {
		return 0, errors.Wrapf(err, "failed to bump stale counter of %q", signalID)
	}

	return count, nil
}

func (p *Postgres) ResetStale(ctx context.Context, signalID string) error {
	_, err := p.db.WithContext(ctx).Model(&model.SignalAttempt{}).Where("signal_id = ?", signalID).Delete()
	return err
}

func (p *Postgres) insert(ctx context.Context, obj interface{}) error {
	_, err := p.db.WithContext(ctx).Model(obj).Insert()
	if pgErr, ok := err.(pg.Error); ok && pgErr.Field('C') == uniqueViolation {
		return model.ErrAlreadyExists
	}

	return err
}

func notFound(err error) error {
	if err == pg.ErrNoRows {
		return model.ErrNotFound
	}
	return err
}
