package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Auth     AuthConfig
	Provider ProviderConfig
	Pool     PoolConfig
	TTL      TTLConfig
	Store    StoreConfig
	Queue    QueueConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type AuthConfig struct {
	APIKey string
}

type ProviderConfig struct {
	Mode           string            // "ec2", "docker" or "memory"
	Region         string            // EC2 region
	DefaultImageID string            // Image used when a type has no override
	KeyName        string            // SSH key pair name
	TypeImages     map[string]string // instance type -> image override
	LocalCommand   []string          // Command kept running in docker-mode instances
}

// ImageFor returns the image configured for an instance type.
func (p ProviderConfig) ImageFor(instanceType string) string {
	if image, ok := p.TypeImages[instanceType]; ok && image != "" {
		return image
	}
	return p.DefaultImageID
}

type PoolConfig struct {
	Strategy          string        // Pooling strategy name ("naive")
	Targets           string        // Desired inventory, "type=count,type=count"
	Selection         string        // Candidate ordering: "oldest" or "listed"
	ReconcileInterval time.Duration // 0 disables the periodic reconcile loop
	TagWriteAttempts  int           // Total attempts for a pool tag write
	TagRetryDelay     time.Duration // Delay between tag write attempts (0 = none)
}

type TTLConfig struct {
	SweepInterval   time.Duration // 0 disables the periodic TTL sweep
	AllocationHours int           // TTL applied to allocated instances (0 = none)
}

type StoreConfig struct {
	ValkeyAddr string
	Password   string
	DB         int
}

type QueueConfig struct {
	Enabled     bool
	NATSURL     string
	StreamName  string
	WorkerCount int
}

// Load loads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			APIKey: getEnv("API_KEY", ""),
		},
		Provider: ProviderConfig{
			Mode:           getEnv("PROVIDER_MODE", "ec2"),
			Region:         getEnv("PROVIDER_REGION", "us-east-1"),
			DefaultImageID: getEnv("PROVIDER_IMAGE_ID", "ami-0c55b159cbfafe1f0"),
			KeyName:        getEnv("PROVIDER_KEY_NAME", "smake"),
			TypeImages:     getEnvMap("PROVIDER_TYPE_IMAGES"),
			LocalCommand:   strings.Fields(getEnv("PROVIDER_LOCAL_COMMAND", "sleep infinity")),
		},
		Pool: PoolConfig{
			Strategy:          getEnv("POOL_STRATEGY", "naive"),
			Targets:           getEnv("POOL_TARGETS", "t3.small=1,t3.medium=1"),
			Selection:         getEnv("POOL_SELECTION", "oldest"),
			ReconcileInterval: getEnvDuration("POOL_RECONCILE_INTERVAL", 0),
			TagWriteAttempts:  getEnvInt("POOL_TAG_WRITE_ATTEMPTS", 3),
			TagRetryDelay:     getEnvDuration("POOL_TAG_RETRY_DELAY", 0),
		},
		TTL: TTLConfig{
			SweepInterval:   getEnvDuration("TTL_SWEEP_INTERVAL", 0),
			AllocationHours: getEnvInt("TTL_ALLOCATION_HOURS", 0),
		},
		Store: StoreConfig{
			ValkeyAddr: getEnv("VALKEY_ADDR", "localhost:6379"),
			Password:   getEnv("VALKEY_PASSWORD", ""),
			DB:         getEnvInt("VALKEY_DB", 0),
		},
		Queue: QueueConfig{
			Enabled:     getEnvBool("NATS_ENABLED", false),
			NATSURL:     getEnv("NATS_URL", "nats://localhost:4222"),
			StreamName:  getEnv("NATS_STREAM_NAME", "FLEET"),
			WorkerCount: getEnvInt("NATS_WORKER_COUNT", 3),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvMap parses "k=v,k=v". Malformed entries are skipped.
func getEnvMap(key string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(os.Getenv(key), ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || k == "" {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}
