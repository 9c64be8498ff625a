// Package workerconfig provides worker-process configuration loaded from
// environment variables, mirroring the shape of the teacher's
// internal/config.Config (envconfig tags, defaults, Validate* methods).
package workerconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "workerconfig:LoadConfig"

// Config holds capability-worker process configuration.
type Config struct {
	// Bus: connect to the default bus at BUS_URL. SERVICE_NAME is loaded into
	// ServiceName but not used for the connection, which the connection
	// pool dials under its own fixed name.
	BusURL      string `envconfig:"BUS_URL" default:"nats://127.0.0.1:4222"`
	ServiceName string `envconfig:"SERVICE_NAME" default:"capability-worker"`

	// Worker pool identity.
	WorkerID      string `envconfig:"WORKER_ID" default:"worker-1"`
	SandboxID     string `envconfig:"SANDBOX_ID"`
	ConsumerGroup string `envconfig:"CONSUMER_GROUP" default:"capability-workers"`

	// CapabilitiesCSV is a comma-separated list of capability names this pool
	// handles, e.g. "billing.charge,billing.refund".
	CapabilitiesCSV string `envconfig:"CAPABILITIES" default:""`

	ConcurrentWorkers int `envconfig:"CONCURRENT_WORKERS" default:"4"`

	BootstrapSubject string        `envconfig:"BOOTSTRAP_SUBJECT" default:"system.registry.bootstrap"`
	RequestTimeout   time.Duration `envconfig:"REQUEST_TIMEOUT" default:"25s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads worker configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ValidateForRun checks required config when running a worker pool.
func (c *Config) ValidateForRun() error {
	if c.BusURL == "" {
		return fmt.Errorf("%s - BUS_URL is required", logPrefix)
	}
	if c.ConcurrentWorkers <= 0 {
		return fmt.Errorf("%s - CONCURRENT_WORKERS must be positive", logPrefix)
	}
	if c.ConsumerGroup == "" {
		return fmt.Errorf("%s - CONSUMER_GROUP is required", logPrefix)
	}
	if len(c.Capabilities()) == 0 {
		return fmt.Errorf("%s - CAPABILITIES must list at least one capability", logPrefix)
	}
	return nil
}

// Capabilities splits CapabilitiesCSV into a trimmed capability-name slice.
func (c *Config) Capabilities() []string {
	var out []string
	for _, part := range strings.Split(c.CapabilitiesCSV, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
