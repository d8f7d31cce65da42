package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/mxpv/pledgesync/pkg/db"
	"github.com/mxpv/pledgesync/pkg/model"
)

const (
	LockLocal = "local"
	LockRedis = "redis"
)

type Server struct {
	// Hostname is used in links sent to operators
	Hostname string `toml:"hostname"`
	// Port is a server port to listen to
	Port int `toml:"port"`
	// BindAddress restricts the listener to one interface
	BindAddress string `toml:"bind_address"`
}

type Lock struct {
	// Driver is either "local" (single instance) or "redis"
	Driver string `toml:"driver"`
	// Timeout is how long an allocation waits for the pledge lock
	Timeout Duration `toml:"timeout"`
	// Expiry is the lease of a redis lock, must outlive the critical section
	Expiry Duration `toml:"expiry"`
	// Addresses of redis nodes, one per independent master
	Addresses StringSlice `toml:"addresses"`
	Password  string      `toml:"password"`
}

type Reconcile struct {
	// Schedule is a cron expression for reconciliation runs
	Schedule string `toml:"schedule"`
	// RepairSchedule is a cron expression for pledge status repair runs
	RepairSchedule string `toml:"repair_schedule"`
	// BatchSize limits the number of signals handled per run
	BatchSize int `toml:"batch_size"`
	// MaxStaleAttempts is how many runs a signal may make no progress before escalation
	MaxStaleAttempts int `toml:"max_stale_attempts"`
	// Query is the inbox search filter
	Query             string `toml:"query"`
	ProcessedLabel    string `toml:"processed_label"`
	ManualReviewLabel string `toml:"manual_review_label"`
	// Operators receive manual review alerts
	Operators StringSlice `toml:"operators"`
}

type Classifier struct {
	APIKey  string   `toml:"api_key"`
	BaseURL string   `toml:"base_url"`
	Model   string   `toml:"model"`
	Timeout Duration `toml:"timeout"`
	// MaxFailures opens the circuit breaker after this many consecutive failures
	MaxFailures int `toml:"max_failures"`
	// Cooldown is how long the breaker stays open
	Cooldown Duration `toml:"cooldown"`
}

type Mail struct {
	// CredentialsFile is the OAuth client JSON downloaded from Google Cloud console
	CredentialsFile string `toml:"credentials_file"`
	// TokenFile keeps the OAuth token obtained for the mailbox
	TokenFile string `toml:"token_file"`
	// User is the mailbox to operate on
	User string `toml:"user"`
	From string `toml:"from"`
	// HostelAddress receives allocation requests
	HostelAddress string `toml:"hostel_address"`
}

type Queue struct {
	// URL of the SQS queue with hostel notifications, sent inline when empty
	URL      string   `toml:"url"`
	Region   string   `toml:"region"`
	Endpoint string   `toml:"endpoint"`
	WaitTime Duration `toml:"wait_time"`
}

type Config struct {
	// Server is the web server configuration
	Server Server `toml:"server"`
	// Database configuration
	Database db.Config `toml:"database"`
	// Lock configures pledge scoped mutual exclusion
	Lock       Lock       `toml:"lock"`
	Reconcile  Reconcile  `toml:"reconcile"`
	Classifier Classifier `toml:"classifier"`
	Mail       Mail       `toml:"mail"`
	Queue      Queue      `toml:"queue"`
}

// LoadConfig loads TOML configuration from a file path
func LoadConfig(path string) (*Config, error) {
	config := Config{}
	_, err := toml.DecodeFile(path, &config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config file")
	}

	config.applyDefaults(path)

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	var result *multierror.Error

	switch c.Database.Driver {
	case db.DriverBadger:
	case db.DriverPostgres:
		if c.Database.Postgres == nil || c.Database.Postgres.URL == "" {
			result = multierror.Append(result, errors.New("postgres url is required"))
		}
	default:
		result = multierror.Append(result, errors.Errorf("unsupported database driver %q", c.Database.Driver))
	}

	switch c.Lock.Driver {
	case LockLocal:
	case LockRedis:
		if len(c.Lock.Addresses) == 0 {
			result = multierror.Append(result, errors.New("at least one redis address is required for redis lock"))
		}
	default:
		result = multierror.Append(result, errors.Errorf("unsupported lock driver %q", c.Lock.Driver))
	}

	if c.Lock.Expiry.Duration <= c.Lock.Timeout.Duration {
		result = multierror.Append(result, errors.New("lock expiry must be longer than lock timeout"))
	}

	for name, spec := range map[string]string{
		"schedule":        c.Reconcile.Schedule,
		"repair_schedule": c.Reconcile.RepairSchedule,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "invalid reconcile %s %q", name, spec))
		}
	}

	if c.Reconcile.ProcessedLabel == c.Reconcile.ManualReviewLabel {
		result = multierror.Append(result, errors.New("processed and manual review labels must differ"))
	}

	if len(c.Reconcile.Operators) == 0 {
		result = multierror.Append(result, errors.New("at least one operator address must be specified"))
	}

	if c.Classifier.APIKey == "" {
		result = multierror.Append(result, errors.New("classifier api key is required"))
	}

	if c.Mail.CredentialsFile == "" {
		result = multierror.Append(result, errors.New("mail credentials file is required"))
	}

	if c.Mail.HostelAddress == "" {
		result = multierror.Append(result, errors.New("hostel address is required"))
	}

	return result.ErrorOrNil()
}

func (c *Config) applyDefaults(configPath string) {
	if c.Server.Port == 0 {
		c.Server.Port = model.DefaultServerPort
	}

	if c.Server.Hostname == "" {
		c.Server.Hostname = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}

	if c.Database.Driver == "" {
		c.Database.Driver = db.DriverBadger
	}

	if c.Database.Dir == "" {
		c.Database.Dir = filepath.Join(filepath.Dir(configPath), "db")
	}

	if c.Lock.Driver == "" {
		c.Lock.Driver = LockLocal
	}

	if c.Lock.Timeout.Duration == 0 {
		c.Lock.Timeout.Duration = model.DefaultLockTimeout
	}

	if c.Lock.Expiry.Duration == 0 {
		c.Lock.Expiry.Duration = model.DefaultLockExpiry
	}

	if c.Reconcile.Schedule == "" {
		c.Reconcile.Schedule = model.DefaultReconcileSchedule
	}

	if c.Reconcile.RepairSchedule == "" {
		c.Reconcile.RepairSchedule = model.DefaultRepairSchedule
	}

	if c.Reconcile.BatchSize == 0 {
		c.Reconcile.BatchSize = model.DefaultBatchSize
	}

	if c.Reconcile.MaxStaleAttempts == 0 {
		c.Reconcile.MaxStaleAttempts = model.DefaultMaxStaleAttempts
	}

	if c.Reconcile.Query == "" {
		c.Reconcile.Query = model.DefaultSearchQuery
	}

	if c.Reconcile.ProcessedLabel == "" {
		c.Reconcile.ProcessedLabel = model.DefaultProcessedLabel
	}

	if c.Reconcile.ManualReviewLabel == "" {
		c.Reconcile.ManualReviewLabel = model.DefaultManualReviewLabel
	}

	if c.Classifier.Model == "" {
		c.Classifier.Model = model.DefaultClassifierModel
	}

	if c.Classifier.Timeout.Duration == 0 {
		c.Classifier.Timeout.Duration = model.DefaultClassifierTimeout
	}

	if c.Classifier.MaxFailures == 0 {
		c.Classifier.MaxFailures = model.DefaultBreakerFailures
	}

	if c.Classifier.Cooldown.Duration == 0 {
		c.Classifier.Cooldown.Duration = model.DefaultBreakerCooldown
	}

	if c.Mail.User == "" {
		c.Mail.User = model.DefaultMailUser
	}

	if c.Mail.TokenFile == "" && c.Mail.CredentialsFile != "" {
		c.Mail.TokenFile = strings.TrimSuffix(c.Mail.CredentialsFile, filepath.Ext(c.Mail.CredentialsFile)) + ".token.json"
	}

	if c.Queue.Region == "" {
		c.Queue.Region = model.DefaultQueueRegion
	}

	if c.Queue.WaitTime.Duration == 0 {
		c.Queue.WaitTime.Duration = model.DefaultQueueWaitTime
	}
}
