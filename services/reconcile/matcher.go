package reconcile

import (
	log "github.com/sirupsen/logrus"

	"github.com/mxpv/pledgesync/pkg/model"
)

// matchPledge extracts the correlation key from a signal subject.
func matchPledge(signal *model.Signal, logger log.FieldLogger) (string, bool) {
	pledgeID, ok := model.FindPledgeID(signal.Subject)
	if !ok {
		logger.Infof("no pledge id in subject %q", signal.Subject)
		return "", false
	}

	return pledgeID, true
}

// confirmedSet keeps the open allocations named by a verdict, in stored order.
func confirmedSet(open []*model.Allocation, confirmedIDs []string, logger log.FieldLogger) []*model.Allocation {
	named := make(map[string]struct{}, len(confirmedIDs))
	for _, id := range confirmedIDs {
		named[id] = struct{}{}
	}

	var matched []*model.Allocation
	for _, allocation := range open {
		if _, ok := named[allocation.AllocID]; ok {
			matched = append(matched, allocation)
			delete(named, allocation.AllocID)
		}
	}

	for id := range named {
		logger.WithField("alloc_id", id).Warn("skipping unknown or already verified allocation")
	}

	return matched
}
