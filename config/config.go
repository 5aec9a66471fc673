package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config contains all configuration for the application
type Config struct {
	// Rhombus API Configuration
	APIBaseURL string
	APIKey     string

	// Download Configuration
	UseWAN             bool          // Use WAN media URIs instead of LAN
	Concurrency        int           // Max concurrent footage jobs
	SegmentConcurrency int           // Max concurrent segment fetches per job
	LaunchDelay        time.Duration // Minimum delay between job launches
	FetchTimeout       time.Duration // Per-attempt segment fetch timeout
	FetchAttempts      int           // Retry budget per segment

	// Storage Configuration
	OutputDir      string
	DatabasePath   string
	MinFreeSpaceGB int // Refuse to start a batch below this free space

	// Server Configuration
	ServerPort string

	// R2 Storage Configuration
	R2AccessKey string
	R2SecretKey string
	R2AccountID string
	R2Bucket    string
	R2Region    string
	R2Endpoint  string
	R2BaseURL   string
	R2Enabled   bool

	// Watch Mode Configuration
	WatchSchedule string // cron expression for alert polling
}

// LoadConfig loads configuration from environment variables
func LoadConfig() Config {
	return Config{
		APIBaseURL: getEnv("RHOMBUS_API_BASE_URL", "https://api2.rhombussystems.com"),
		APIKey:     getEnv("RHOMBUS_API_KEY", ""),

		UseWAN:             getEnvBool("USE_WAN", false),
		Concurrency:        getEnvInt("JOB_CONCURRENCY", 4),
		SegmentConcurrency: getEnvInt("SEGMENT_CONCURRENCY", 4),
		LaunchDelay:        getEnvDuration("JOB_LAUNCH_DELAY", 100*time.Millisecond),
		FetchTimeout:       getEnvDuration("SEGMENT_FETCH_TIMEOUT", 15*time.Second),
		FetchAttempts:      getEnvInt("SEGMENT_FETCH_ATTEMPTS", 3),

		OutputDir:      getEnv("OUTPUT_DIR", "./footage"),
		DatabasePath:   getEnv("DATABASE_PATH", "./data/jobs.db"),
		MinFreeSpaceGB: getEnvInt("MIN_FREE_SPACE_GB", 5),

		ServerPort: getEnv("SERVER_PORT", "3000"),

		R2AccessKey: getEnv("R2_ACCESS_KEY", ""),
		R2SecretKey: getEnv("R2_SECRET_KEY", ""),
		R2AccountID: getEnv("R2_ACCOUNT_ID", ""),
		R2Bucket:    getEnv("R2_BUCKET", ""),
		R2Region:    getEnv("R2_REGION", "auto"),
		R2Endpoint:  getEnv("R2_ENDPOINT", ""),
		R2BaseURL:   getEnv("R2_BASE_URL", ""),
		R2Enabled:   getEnvBool("R2_ENABLED", false),

		WatchSchedule: getEnv("WATCH_SCHEDULE", "*/5 * * * *"),
	}
}

// EnsurePaths creates the directories the application writes to.
func EnsurePaths(cfg Config) {
	dirs := []string{
		cfg.OutputDir,
		filepath.Dir(cfg.DatabasePath),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Printf("[config] Error creating directory %s: %v", dir, err)
		}
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		log.Printf("[config] Warning: invalid integer for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
		log.Printf("[config] Warning: invalid boolean for %s, using default %v", key, defaultValue)
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		log.Printf("[config] Warning: invalid duration for %s, using default %v", key, defaultValue)
	}
	return defaultValue
}
