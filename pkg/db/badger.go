package db

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/dgraph-io/badger/options"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mxpv/pledgesync/pkg/model"
)

const (
	versionPath      = "pledgesync/version"
	pledgePrefix     = "pledge/"
	pledgePath       = "pledge/%s"
	receiptPrefix    = "receipt/%s/"
	receiptPath      = "receipt/%s/%s" // PledgeID + ReceiptID
	allocationRoot   = "allocation/"
	allocationPrefix = "allocation/%s/"
	allocationPath   = "allocation/%s/%s" // PledgeID + AllocID
	needPath         = "need/%s"
	auditPrefix      = "audit/%s/"
	auditPath        = "audit/%s/%020d-%s" // TargetID + CreatedAt + ID
	signalPath       = "signal/%s"
)

// BadgerConfig represents BadgerDB configuration parameters
type BadgerConfig struct {
	Truncate bool `toml:"truncate"`
	FileIO   bool `toml:"file_io"`
}

type Badger struct {
	db *badger.DB
}

var _ Storage = (*Badger)(nil)

func NewBadger(config *Config) (*Badger, error) {
	var (
		dir = config.Dir
	)

	log.Infof("opening database %q", dir)

	// Make sure database directory exists
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "could not mkdir database dir")
	}

	opts := badger.DefaultOptions(dir).
		WithLogger(log.StandardLogger()).
		WithTruncate(true)

	if config.Badger != nil {
		opts.Truncate = config.Badger.Truncate
		if config.Badger.FileIO {
			opts.ValueLogLoadingMode = options.FileIO
		}
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	storage := &Badger{db: db}

	if err := db.Update(func(txn *badger.Txn) error {
		if err := storage.setObj(txn, []byte(versionPath), CurrentVersion, false); err != nil && err != model.ErrAlreadyExists {
			return err
		}
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "failed to read database version")
	}

	return storage, nil
}

func (b *Badger) Close() error {
	log.Debug("closing database")
	return b.db.Close()
}

func (b *Badger) Version() (int, error) {
	var (
		version = -1
	)

	err := b.db.View(func(txn *badger.Txn) error {
		return b.getObj(txn, []byte(versionPath), &version)
	})

	return version, err
}

func (b *Badger) AddPledge(_ context.Context, pledge *model.Pledge) error {
	if err := pledge.Validate(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		key := b.getKey(pledgePath, pledge.PledgeID)
		return b.setObj(txn, key, pledge, false)
	})
}

func (b *Badger) GetPledge(_ context.Context, pledgeID string) (*model.Pledge, error) {
	var (
		pledge model.Pledge
		key    = b.getKey(pledgePath, pledgeID)
	)

	if err := b.db.View(func(txn *badger.Txn) error {
		return b.getObj(txn, key, &pledge)
	}); err != nil {
		return nil, err
	}

	return &pledge, nil
}

func (b *Badger) UpdatePledge(_ context.Context, pledgeID string, cb func(pledge *model.Pledge) error) error {
	var (
		key    = b.getKey(pledgePath, pledgeID)
		pledge model.Pledge
	)

	return b.db.Update(func(txn *badger.Txn) error {
		if err := b.getObj(txn, key, &pledge); err != nil {
			return err
		}

		if err := cb(&pledge); err != nil {
			return err
		}

		if pledge.PledgeID != pledgeID {
			return errors.New("can't change pledge ID")
		}

		if err := pledge.Validate(); err != nil {
			return err
		}

		return b.setObj(txn, key, &pledge, true)
	})
}

func (b *Badger) WalkPledges(_ context.Context, cb func(pledge *model.Pledge) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = b.getKey(pledgePrefix)
		opts.PrefetchValues = true
		return b.iterator(txn, opts, func(item *badger.Item) error {
			pledge := &model.Pledge{}
			if err := b.unmarshalObj(item, pledge); err != nil {
				return err
			}

			return cb(pledge)
		})
	})
}

func (b *Badger) AddReceipt(_ context.Context, receipt *model.Receipt) error {
	if err := receipt.Validate(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		key := b.getKey(receiptPath, receipt.PledgeID, receipt.ReceiptID)
		return b.setObj(txn, key, receipt, true)
	})
}

func (b *Badger) WalkReceipts(_ context.Context, pledgeID string, cb func(receipt *model.Receipt) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = b.getKey(receiptPrefix, pledgeID)
		opts.PrefetchValues = true
		return b.iterator(txn, opts, func(item *badger.Item) error {
			receipt := &model.Receipt{}
			if err := b.unmarshalObj(item, receipt); err != nil {
				return err
			}

			return cb(receipt)
		})
	})
}

func (b *Badger) AddAllocation(_ context.Context, allocation *model.Allocation) error {
	if err := allocation.Validate(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		key := b.getKey(allocationPath, allocation.PledgeID, allocation.AllocID)
		return b.setObj(txn, key, allocation, false)
	})
}

func (b *Badger) GetAllocation(_ context.Context, pledgeID string, allocID string) (*model.Allocation, error) {
	var (
		allocation model.Allocation
		key        = b.getKey(allocationPath, pledgeID, allocID)
	)

	if err := b.db.View(func(txn *badger.Txn) error {
		return b.getObj(txn, key, &allocation)
	}); err != nil {
		return nil, err
	}

	return &allocation, nil
}

func (b *Badger) UpdateAllocation(_ context.Context, pledgeID string, allocID string, cb func(allocation *model.Allocation) error) error {
	var (
		key        = b.getKey(allocationPath, pledgeID, allocID)
		allocation model.Allocation
	)

	return b.db.Update(func(txn *badger.Txn) error {
		if err := b.getObj(txn, key, &allocation); err != nil {
			return err
		}

		if err := cb(&allocation); err != nil {
			return err
		}

		if allocation.AllocID != allocID || allocation.PledgeID != pledgeID {
			return errors.New("can't change allocation ID")
		}

		if err := allocation.Validate(); err != nil {
			return err
		}

		return b.setObj(txn, key, &allocation, true)
	})
}

func (b *Badger) WalkAllocations(_ context.Context, pledgeID string, cb func(allocation *model.Allocation) error) error {
	prefix := b.getKey(allocationRoot)
	if pledgeID != "" {
		prefix = b.getKey(allocationPrefix, pledgeID)
	}

	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = true
		return b.iterator(txn, opts, func(item *badger.Item) error {
			allocation := &model.Allocation{}
			if err := b.unmarshalObj(item, allocation); err != nil {
				return err
			}

			return cb(allocation)
		})
	})
}

func (b *Badger) GetNeed(_ context.Context, cmsID string) (*model.BeneficiaryNeed, error) {
	var (
		need model.BeneficiaryNeed
		key  = b.getKey(needPath, cmsID)
	)

	if err := b.db.View(func(txn *badger.Txn) error {
		return b.getObj(txn, key, &need)
	}); err != nil {
		return nil, err
	}

	return &need, nil
}

func (b *Badger) PutNeed(_ context.Context, need *model.BeneficiaryNeed) error {
	if need.CmsID == "" {
		return errors.New("beneficiary id is empty")
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return b.setObj(txn, b.getKey(needPath, need.CmsID), need, true)
	})
}

func (b *Badger) AddAudit(_ context.Context, record *model.AuditRecord) error {
	return b.db.Update(func(txn *badger.Txn) error {
		key := b.getKey(auditPath, record.TargetID, record.CreatedAt.UnixNano(), record.ID)
		return b.setObj(txn, key, record, false)
	})
}

func (b *Badger) WalkAudit(_ context.Context, targetID string, cb func(record *model.AuditRecord) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = b.getKey(auditPrefix, targetID)
		opts.PrefetchValues = true
		return b.iterator(txn, opts, func(item *badger.Item) error {
			record := &model.AuditRecord{}
			if err := b.unmarshalObj(item, record); err != nil {
				return err
			}

			return cb(record)
		})
	})
}

func (b *Badger) IncrementStale(_ context.Context, signalID string) (int, error) {
	var (
		key     = b.getKey(signalPath, signalID)
		attempt model.SignalAttempt
	)

	err := b.db.Update(func(txn *badger.Txn) error {
		attempt = model.SignalAttempt{SignalID: signalID}
		if err := b.getObj(txn, key, &attempt); err != nil && err != model.ErrNotFound {
			return err
		}

		attempt.StaleCount++
		attempt.UpdatedAt = time.Now().UTC()

		return b.setObj(txn, key, &attempt, true)
	})

	return attempt.StaleCount, err
}

func (b *Badger) ResetStale(_ context.Context, signalID string) error {
	key := b.getKey(signalPath, signalID)
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (b *Badger) iterator(txn *badger.Txn, opts badger.IteratorOptions, callback func(item *badger.Item) error) error {
	iter := txn.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		item := iter.Item()

		if err := callback(item); err != nil {
			return err
		}
	}

	return nil
}

func (b *Badger) getKey(format string, a ...interface{}) []byte {
	resourcePath := fmt.Sprintf(format, a...)
	fullPath := fmt.Sprintf("pledgesync/v%d/%s", CurrentVersion, resourcePath)

	return []byte(fullPath)
}

func (b *Badger) setObj(txn *badger.Txn, key []byte, obj interface{}, overwrite bool) error {
	if !overwrite {
		// Overwrites are not allowed, make sure there is no object with the given key
		_, err := txn.Get(key)
		if err == nil {
			return model.ErrAlreadyExists
		} else if err != badger.ErrKeyNotFound {
			return errors.Wrap(err, "failed to check whether key exists")
		}
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize object for key %q", key)
	}

	return txn.Set(key, data)
}

func (b *Badger) getObj(txn *badger.Txn, key []byte, out interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return model.ErrNotFound
		}

		return err
	}

	return b.unmarshalObj(item, out)
}

// unmarshalObj decodes a stored row. Status fields reject unknown values here.
func (b *Badger) unmarshalObj(item *badger.Item, out interface{}) error {
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, out); err != nil {
			return errors.Wrapf(err, "failed to decode %q", item.Key())
		}
		return nil
	})
}
