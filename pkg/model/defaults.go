package model

import (
	"time"
)

const (
	DefaultLockTimeout       = 30 * time.Second
	DefaultLockExpiry        = 2 * time.Minute
	DefaultBatchSize         = 50
	DefaultMaxStaleAttempts  = 3
	DefaultReconcileSchedule = "@every 15m"
	DefaultRepairSchedule    = "@every 6h"
	DefaultProcessedLabel    = "pledgesync/processed"
	DefaultManualReviewLabel = "pledgesync/manual-review"
	DefaultSearchQuery       = "subject:PLEDGE-"
	DefaultActor             = "system"
	DefaultServerPort        = 8080
	DefaultMailUser          = "me"
	DefaultClassifierModel   = "gpt-4o-mini"
	DefaultClassifierTimeout = 60 * time.Second
	DefaultBreakerFailures   = 5
	DefaultBreakerCooldown   = time.Minute
	DefaultQueueRegion       = "us-east-1"
	DefaultQueueWaitTime     = 20 * time.Second
)
