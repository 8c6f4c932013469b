package config

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "EOD"

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Kafka    KafkaConfig
	PubSub   PubSubConfig
	Storage  StorageConfig
	Portal   PortalConfig
	Wait     WaitConfig
	Calendar CalendarConfig
	Redis    RedisConfig
	Schedule ScheduleConfig
	Logging  LoggingConfig
	Notify   NotifyConfig
	Secrets  SecretsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string        `split_words:"true" default:"8080"`
	Host            string        `split_words:"true" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
}

// DatabaseConfig holds PostgreSQL configuration for the warehouse
type DatabaseConfig struct {
	Host     string `split_words:"true" default:"localhost"`
	Port     string `split_words:"true" default:"5432"`
	User     string `split_words:"true" default:"postgres"`
	Password string `split_words:"true" default:"postgres"`
	DBName   string `split_words:"true" default:"eodprices"`
	SSLMode  string `split_words:"true" default:"disable"`
	Migrate  bool   `split_words:"true" default:"true"`
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers []string `split_words:"true" default:"localhost:9092"`
	Topic   string   `split_words:"true" default:"eod-ingest-events"`
	GroupID string   `split_words:"true" default:"eod-reconciler"`
}

// PubSubConfig holds Google Pub/Sub configuration
type PubSubConfig struct {
	ProjectID string `split_words:"true"`
	Topic     string `split_words:"true"`
}

// StorageConfig selects and configures the artifact store
type StorageConfig struct {
	Backend string `split_words:"true" default:"gcs"`
	Bucket  string `split_words:"true"`
	Prefix  string `split_words:"true"`
	// LocalDir is the bucket root when Backend is "local"
	LocalDir string `split_words:"true" default:"data/bucket"`
}

// PortalConfig describes the broker portal and its credentials
type PortalConfig struct {
	LoginURL       string        `split_words:"true" default:"https://www2.commsec.com.au/secure/login"`
	DownloadURL    string        `split_words:"true" default:"https://www2.commsec.com.au/Private/Charts/EndOfDayPrices.aspx"`
	SecurityType   string        `split_words:"true" default:"ASX Equities"`
	Format         string        `split_words:"true" default:"Stock Easy"`
	User           string        `split_words:"true"`
	PasswordSecret string        `split_words:"true" default:"COMMSEC_PASSWORD"`
	FeedName       string        `split_words:"true" default:"ASXEQUITIESStockEasy"`
	DownloadDir    string        `split_words:"true" default:"/app"`
	Headless       bool          `split_words:"true" default:"true"`
	Timezone       string        `split_words:"true" default:"Australia/Sydney"`
	BackfillStart  string        `split_words:"true" default:"20210703"`
	CloseGrace     time.Duration `split_words:"true" default:"3s"`
	// DownloadInterval is the minimum spacing between download triggers
	DownloadInterval time.Duration `split_words:"true" default:"500ms"`
}

// WaitConfig bounds every wait point in the pipeline
type WaitConfig struct {
	MarkerTimeout time.Duration `split_words:"true" default:"10s"`
	FileTimeout   time.Duration `split_words:"true" default:"10s"`
	FileInterval  time.Duration `split_words:"true" default:"250ms"`
}

// CalendarConfig selects the holiday oracle
type CalendarConfig struct {
	Source string `split_words:"true" default:"database"`
	File   string `split_words:"true" default:"holidays.yaml"`
	Market string `split_words:"true" default:"ASX"`
}

// RedisConfig configures the distributed batch gate. An empty Addr keeps the gate in-process.
type RedisConfig struct {
	Addr     string        `split_words:"true"`
	Password string        `split_words:"true"`
	DB       int           `split_words:"true" default:"0"`
	LockKey  string        `split_words:"true" default:"eod-ingest:batch"`
	LockTTL  time.Duration `split_words:"true" default:"2h"`
}

// ScheduleConfig holds cron expressions (with seconds). Empty disables a job.
type ScheduleConfig struct {
	DailyCron     string `split_words:"true" default:"0 30 19 * * 1-5"`
	ReconcileCron string `split_words:"true"`
	// RunOnStart triggers the daily job once as soon as the service is up
	RunOnStart    bool   `split_words:"true" default:"false"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level    string `split_words:"true" default:"info"`
	Format   string `split_words:"true" default:"json"`
	Output   string `split_words:"true" default:"console"`
	FilePath string `split_words:"true" default:"logs/eod-ingest.log"`
}

// NotifyConfig selects the completion-event transport
type NotifyConfig struct {
	Backend string        `split_words:"true" default:"kafka"`
	Timeout time.Duration `split_words:"true" default:"10s"`
}

// SecretsConfig selects where the portal password comes from
type SecretsConfig struct {
	Backend   string `split_words:"true" default:"secretmanager"`
	ProjectID string `split_words:"true"`
}

// Load reads configuration for the ingest service
func Load() (*Config, error) {
	return load((*Config).Validate)
}

// LoadReconciler reads configuration for the reconciler, which never touches
// the portal, secrets or calendar
func LoadReconciler() (*Config, error) {
	return load((*Config).ValidateReconciler)
}

func load(validate func(*Config) error) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks cross-field requirements that struct tags cannot express
func (c *Config) Validate() error {
	errs := []error{c.validateStorage()}

	switch c.Notify.Backend {
	case "kafka":
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			errs = append(errs, errors.New("kafka brokers and topic are required for the kafka notifier"))
		}
	case "pubsub":
		if c.PubSub.ProjectID == "" || c.PubSub.Topic == "" {
			errs = append(errs, errors.New("pubsub project and topic are required for the pubsub notifier"))
		}
	case "none":
	default:
		errs = append(errs, fmt.Errorf("unknown notify backend %q", c.Notify.Backend))
	}

	switch c.Secrets.Backend {
	case "secretmanager":
		if c.Secrets.ProjectID == "" {
			errs = append(errs, errors.New("secrets project id is required for secretmanager"))
		}
	case "env":
	default:
		errs = append(errs, fmt.Errorf("unknown secrets backend %q", c.Secrets.Backend))
	}

	switch c.Calendar.Source {
	case "database", "file":
	default:
		errs = append(errs, fmt.Errorf("unknown calendar source %q", c.Calendar.Source))
	}

	if c.Wait.FileTimeout <= 0 || c.Wait.MarkerTimeout <= 0 {
		errs = append(errs, errors.New("wait timeouts must be positive"))
	}
	if c.Wait.FileInterval <= 0 {
		errs = append(errs, errors.New("file poll interval must be positive"))
	}
	if _, err := time.LoadLocation(c.Portal.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid portal timezone: %w", err))
	}

	return errors.Join(errs...)
}

// ValidateReconciler checks only what the reconciler reads: the artifact
// store and the Kafka subscription
func (c *Config) ValidateReconciler() error {
	errs := []error{c.validateStorage()}
	if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" || c.Kafka.GroupID == "" {
		errs = append(errs, errors.New("kafka brokers, topic and group id are required for the reconciler"))
	}
	return errors.Join(errs...)
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case "gcs":
		if c.Storage.Bucket == "" {
			return errors.New("storage bucket is required for the gcs backend")
		}
	case "local":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

// Location returns the portal's time zone, used to resolve "today"
func (p *PortalConfig) Location() *time.Location {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}
