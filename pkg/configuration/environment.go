package configuration

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/iota-uz/utils/fs"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/kai-sub/gitlab/pkg/logging"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		c.Unload()
		panic(err)
	}
	return c
})

func LoadEnv(envFiles []string) (int, error) {
	existingFiles := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if fs.FileExists(file) {
			existingFiles = append(existingFiles, file)
		}
	}

	if len(existingFiles) == 0 {
		return 0, nil
	}

	return len(existingFiles), godotenv.Load(existingFiles...)
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"gitlab_import"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"false"`
	Addr    string `env:"PROMETHEUS_METRICS_ADDR" envDefault:":9394"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/metrics"`
}

type ReassignmentOptions struct {
	// Upper bound of placeholder references rewritten per statement.
	BatchSize int `env:"REASSIGN_BATCH_SIZE" envDefault:"500"`
	// Pause between two reference groups.
	RelationBatchSleep time.Duration `env:"REASSIGN_RELATION_BATCH_SLEEP" envDefault:"5s"`
}

func (r *ReassignmentOptions) Validate() error {
	if r.BatchSize <= 0 {
		return fmt.Errorf("REASSIGN_BATCH_SIZE must be positive, got %d", r.BatchSize)
	}
	if r.BatchSize > 10000 {
		return fmt.Errorf("REASSIGN_BATCH_SIZE too high, maximum is 10,000, got %d", r.BatchSize)
	}
	if r.RelationBatchSleep < 0 {
		return fmt.Errorf("REASSIGN_RELATION_BATCH_SLEEP must be non-negative, got %s", r.RelationBatchSleep)
	}
	return nil
}

type WorkerOptions struct {
	PollInterval time.Duration `env:"REASSIGN_WORKER_POLL_INTERVAL" envDefault:"10s"`
	BatchSize    int           `env:"REASSIGN_WORKER_BATCH_SIZE" envDefault:"20"`
	Concurrency  int           `env:"REASSIGN_WORKER_CONCURRENCY" envDefault:"4"`
	MaxAttempts  int           `env:"REASSIGN_WORKER_MAX_ATTEMPTS" envDefault:"3"`
	MaxBackoff   time.Duration `env:"REASSIGN_WORKER_MAX_BACKOFF" envDefault:"60s"`
}

func (w *WorkerOptions) Validate() error {
	if w.PollInterval <= 0 {
		return fmt.Errorf("REASSIGN_WORKER_POLL_INTERVAL must be positive, got %s", w.PollInterval)
	}
	if w.Concurrency <= 0 {
		return fmt.Errorf("REASSIGN_WORKER_CONCURRENCY must be positive, got %d", w.Concurrency)
	}
	if w.MaxAttempts <= 0 {
		return fmt.Errorf("REASSIGN_WORKER_MAX_ATTEMPTS must be positive, got %d", w.MaxAttempts)
	}
	if w.BatchSize <= 0 {
		return fmt.Errorf("REASSIGN_WORKER_BATCH_SIZE must be positive, got %d", w.BatchSize)
	}
	return nil
}

type Configuration struct {
	Database     DatabaseOptions
	Prometheus   PrometheusOptions
	Reassignment ReassignmentOptions
	Worker       WorkerOptions

	MigrationsDir    string `env:"MIGRATIONS_DIR" envDefault:"placeholders"`
	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	LogPath          string `env:"LOG_PATH" envDefault:"./logs/app.log"`

	logFile io.Closer
	logger  *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		// Reassignment skips and conflicts are logged at info and warn.
		return logrus.InfoLevel
	}
}

func Use() *Configuration {
	return singleton()
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}

	if err := c.Reassignment.Validate(); err != nil {
		return fmt.Errorf("reassignment configuration error: %w", err)
	}
	if err := c.Worker.Validate(); err != nil {
		return fmt.Errorf("worker configuration error: %w", err)
	}

	f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.LogPath)
	if err != nil {
		return err
	}
	c.logFile = f
	c.logger = logger

	c.Database.Opts = c.Database.ConnectionString()
	return nil
}

// Unload handles a graceful shutdown.
func (c *Configuration) Unload() {
	if c.logFile != nil {
		if err := c.logFile.Close(); err != nil {
			log.Printf("Failed to close log file: %v", err)
		}
	}
}
