package lock

import (
	"context"
	"fmt"
	"time"
)

// Guard is a held lock. Release is safe to call more than once.
type Guard interface {
	Release(ctx context.Context) error
}

// Locker hands out exclusive, named-scope locks with a bounded wait.
// Acquire fails with model.ErrLockTimeout when the wait runs out.
type Locker interface {
	Acquire(ctx context.Context, key string, timeout time.Duration) (Guard, error)
}

// PledgeKey is the lock scope guarding a pledge's balance.
func PledgeKey(pledgeID string) string {
	return fmt.Sprintf("pledgesync:pledge:%s", pledgeID)
}

// BeneficiaryKey is the lock scope guarding a beneficiary's remaining need.
// It is always taken after the pledge lock.
func BeneficiaryKey(cmsID string) string {
	return fmt.Sprintf("pledgesync:beneficiary:%s", cmsID)
}
