package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment prefix used by the bunquery binaries.
const EnvPrefix = "BUNQUERY_"

type Config struct {
	Session   SessionConfig
	Query     QueryConfig
	Transport TransportConfig
	Server    ServerConfig
	Emulator  EmulatorConfig
	Log       LogConfig
}

// SessionConfig identifies the database a client talks to.
type SessionConfig struct {
	ProjectID  string
	DatabaseID string
}

// QueryConfig configures query execution on the client.
type QueryConfig struct {
	MaxRetries         int   // Retries after the first attempt for retry-eligible failures
	DefaultParallelism int   // Used when a partitioned query asks for parallelism <= 0
	PartitionCount     int64 // Default partitions requested from the server
	PartitionPageSize  int32 // Cursors per partition-query page
}

type TransportConfig struct {
	Addr        string
	DialTimeout time.Duration
}

type ServerConfig struct {
	Addr              string
	MaxConnections    int     // 0 = one goroutine per connection
	RequestsPerSecond float64 // 0 = unlimited
	Burst             int
	MetricsAddr       string // Empty disables the /metrics listener
}

type EmulatorConfig struct {
	Path             string
	MinPartitionSize int // Below this many matching documents no cursors are returned
}

type LogConfig struct {
	Level     string // DEBUG, INFO, WARN, ERROR
	Format    string // json, text
	AddSource bool
}

// DocumentsPath returns the root documents path of the configured database.
func (s SessionConfig) DocumentsPath() string {
	return fmt.Sprintf("projects/%s/databases/%s/documents", s.ProjectID, s.DatabaseID)
}

func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			ProjectID:  "local",
			DatabaseID: "(default)",
		},
		Query: QueryConfig{
			MaxRetries:         3,
			DefaultParallelism: 4,
			PartitionCount:     16,
			PartitionPageSize:  100,
		},
		Transport: TransportConfig{
			Addr:        "127.0.0.1:9095",
			DialTimeout: 5 * time.Second,
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:9095",
			MaxConnections: 256,
			Burst:          1,
		},
		Emulator: EmulatorConfig{
			Path:             "./data/bunquery.db",
			MinPartitionSize: 64,
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// Load loads configuration from .env file and environment variables
// prefix: Environment variable prefix (e.g. "BUNQUERY_")
// target: Pointer to the config struct to load into. Fields without a
// matching key keep their current value, so callers pass DefaultConfig().
func Load(prefix string, target interface{}) error {
	v := viper.New()

	// 1. Load from .env file (if exists)
	v.SetConfigFile(".env")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return fmt.Errorf("failed to read .env: %w", err)
		}
	}

	// 2. Load from environment variables
	// BUNQUERY_QUERY_MAXRETRIES -> query.maxretries
	prefixUpper := strings.ToUpper(prefix)
	for _, envStr := range os.Environ() {
		pair := strings.SplitN(envStr, "=", 2)
		if len(pair) != 2 {
			continue
		}
		key, value := pair[0], pair[1]

		if strings.HasPrefix(key, prefixUpper) {
			propKey := strings.TrimPrefix(key, prefixUpper)
			propKey = strings.ToLower(strings.ReplaceAll(propKey, "_", "."))
			propKey = strings.TrimPrefix(propKey, ".")

			v.Set(propKey, value)
		}
	}

	// 3. Unmarshal into struct
	if err := v.Unmarshal(target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}
