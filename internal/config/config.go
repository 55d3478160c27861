package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// Config holds all configuration
type Config struct {
	MySQL          MySQLConfig
	Redis          RedisConfig
	JWT            JWTConfig
	Migrate        bool
	HTTPAddr       string
	ACME           ACMEConfig
	RenewalWorker  RenewalWorkerConfig
	AttemptCleaner AttemptCleanerConfig
	DeployTargets  []DeployTargetConfig
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	DSN string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret        string
	ExpireMinutes int
	Issuer        string
}

// ACMEConfig holds ACME client configuration
type ACMEConfig struct {
	ExportDir     string // issued certificates and keys land here
	HTTP01Webroot string // shared webroot for http-01 challenge files
	DNSRecordTTL  int
}

// RenewalWorkerConfig holds renewal worker configuration. The scheduling
// fields become the per-batch Settings of every automatic run.
type RenewalWorkerConfig struct {
	Enabled            bool
	IntervalSec        int
	RenewIntervalDays  int
	IntervalMode       string // days_after_last_renewal | days_before_expiry
	CheckFailureStatus bool
	MaxTasksPerBatch   int
	Parallel           bool
	MaxConcurrent      int
	SkipStoppedTargets bool
}

// AttemptCleanerConfig holds renewal attempt cleaner configuration
type AttemptCleanerConfig struct {
	Enabled        bool
	IntervalSec    int
	FailedKeepDays int
}

// DeployTargetConfig describes one script-based deployment target. Targets
// are INI-only; they have no environment variable form.
type DeployTargetConfig struct {
	ID           string
	DeployScript string
	StatusScript string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		MySQL: MySQLConfig{
			DSN: getEnv("MYSQL_DSN", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASS", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:        os.Getenv("JWT_SECRET"),
			ExpireMinutes: getEnvInt("JWT_EXPIRE_MINUTES", 1440),
			Issuer:        getEnv("JWT_ISSUER", "certhub"),
		},
		Migrate:  getEnv("MIGRATE", "0") == "1",
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		ACME: ACMEConfig{
			ExportDir:     getEnv("ACME_EXPORT_DIR", "/var/lib/certhub/certs"),
			HTTP01Webroot: getEnv("ACME_HTTP01_WEBROOT", "/var/lib/certhub/webroot"),
			DNSRecordTTL:  getEnvInt("ACME_DNS_RECORD_TTL", 60),
		},
		RenewalWorker: RenewalWorkerConfig{
			Enabled:            getEnv("RENEWAL_WORKER_ENABLED", "1") == "1",
			IntervalSec:        getEnvInt("RENEWAL_WORKER_INTERVAL_SEC", 3600),
			RenewIntervalDays:  getEnvInt("RENEWAL_INTERVAL_DAYS", 14),
			IntervalMode:       getEnv("RENEWAL_INTERVAL_MODE", "days_after_last_renewal"),
			CheckFailureStatus: getEnv("RENEWAL_CHECK_FAILURE_STATUS", "1") == "1",
			MaxTasksPerBatch:   getEnvInt("RENEWAL_MAX_TASKS_PER_BATCH", 50),
			Parallel:           getEnv("RENEWAL_PARALLEL", "0") == "1",
			MaxConcurrent:      getEnvInt("RENEWAL_MAX_CONCURRENT", 4),
			SkipStoppedTargets: getEnv("RENEWAL_SKIP_STOPPED_TARGETS", "1") == "1",
		},
		AttemptCleaner: AttemptCleanerConfig{
			Enabled:        getEnv("ATTEMPT_CLEANER_ENABLED", "1") == "1",
			IntervalSec:    getEnvInt("ATTEMPT_CLEANER_INTERVAL_SEC", 3600),
			FailedKeepDays: getEnvInt("ATTEMPT_FAILED_KEEP_DAYS", 3),
		},
	}

	return cfg, validate(cfg)
}

func validate(cfg *Config) error {
	if cfg.MySQL.DSN == "" {
		return fmt.Errorf("MYSQL_DSN is required")
	}
	if cfg.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// LoadFromINI loads configuration from INI file with environment variable override
func LoadFromINI(iniPath string) (*Config, error) {
	// Load INI file
	cfgFile, err := ini.Load(iniPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load INI file: %w", err)
	}

	// Helper function: get value with priority: ENV > INI > default
	getValue := func(envKey, iniSection, iniKey, defaultValue string) string {
		// Priority 1: Environment variable
		if value := os.Getenv(envKey); value != "" {
			return value
		}
		// Priority 2: INI file
		if value := cfgFile.Section(iniSection).Key(iniKey).String(); value != "" {
			return value
		}
		// Priority 3: Default value
		return defaultValue
	}

	getValueInt := func(envKey, iniSection, iniKey string, defaultValue int) int {
		// Priority 1: Environment variable
		if value := os.Getenv(envKey); value != "" {
			if intValue, err := strconv.Atoi(value); err == nil {
				return intValue
			}
		}
		// Priority 2: INI file
		if cfgFile.Section(iniSection).HasKey(iniKey) {
			if value, err := cfgFile.Section(iniSection).Key(iniKey).Int(); err == nil {
				return value
			}
		}
		// Priority 3: Default value
		return defaultValue
	}

	getValueBool := func(envKey, iniSection, iniKey string, defaultValue bool) bool {
		// Priority 1: Environment variable
		if value := os.Getenv(envKey); value != "" {
			return value == "1" || value == "true"
		}
		// Priority 2: INI file
		if value, err := cfgFile.Section(iniSection).Key(iniKey).Bool(); err == nil {
			return value
		}
		// Priority 3: Default value
		return defaultValue
	}

	cfg := &Config{
		MySQL: MySQLConfig{
			DSN: getValue("MYSQL_DSN", "mysql", "dsn", ""),
		},
		Redis: RedisConfig{
			Addr:     getValue("REDIS_ADDR", "redis", "addr", "localhost:6379"),
			Password: getValue("REDIS_PASS", "redis", "pass", ""),
			DB:       getValueInt("REDIS_DB", "redis", "db", 0),
		},
		JWT: JWTConfig{
			Secret:        getValue("JWT_SECRET", "jwt", "secret", ""),
			ExpireMinutes: getValueInt("JWT_EXPIRE_MINUTES", "jwt", "expire_seconds", 86400) / 60,
			Issuer:        getValue("JWT_ISSUER", "jwt", "issuer", "certhub"),
		},
		Migrate:  getValueBool("MIGRATE", "app", "migrate", false),
		HTTPAddr: getValue("HTTP_ADDR", "http", "addr", ":8080"),
		ACME: ACMEConfig{
			ExportDir:     getValue("ACME_EXPORT_DIR", "acme", "export_dir", "/var/lib/certhub/certs"),
			HTTP01Webroot: getValue("ACME_HTTP01_WEBROOT", "acme", "http01_webroot", "/var/lib/certhub/webroot"),
			DNSRecordTTL:  getValueInt("ACME_DNS_RECORD_TTL", "acme", "dns_record_ttl", 60),
		},
		RenewalWorker: RenewalWorkerConfig{
			Enabled:            getValueBool("RENEWAL_WORKER_ENABLED", "renewal", "worker_enabled", true),
			IntervalSec:        getValueInt("RENEWAL_WORKER_INTERVAL_SEC", "renewal", "worker_interval_sec", 3600),
			RenewIntervalDays:  getValueInt("RENEWAL_INTERVAL_DAYS", "renewal", "interval_days", 14),
			IntervalMode:       getValue("RENEWAL_INTERVAL_MODE", "renewal", "interval_mode", "days_after_last_renewal"),
			CheckFailureStatus: getValueBool("RENEWAL_CHECK_FAILURE_STATUS", "renewal", "check_failure_status", true),
			MaxTasksPerBatch:   getValueInt("RENEWAL_MAX_TASKS_PER_BATCH", "renewal", "max_tasks_per_batch", 50),
			Parallel:           getValueBool("RENEWAL_PARALLEL", "renewal", "parallel", false),
			MaxConcurrent:      getValueInt("RENEWAL_MAX_CONCURRENT", "renewal", "max_concurrent", 4),
			SkipStoppedTargets: getValueBool("RENEWAL_SKIP_STOPPED_TARGETS", "renewal", "skip_stopped_targets", true),
		},
		AttemptCleaner: AttemptCleanerConfig{
			Enabled:        getValueBool("ATTEMPT_CLEANER_ENABLED", "attempt_cleaner", "enabled", true),
			IntervalSec:    getValueInt("ATTEMPT_CLEANER_INTERVAL_SEC", "attempt_cleaner", "interval_sec", 3600),
			FailedKeepDays: getValueInt("ATTEMPT_FAILED_KEEP_DAYS", "attempt_cleaner", "failed_keep_days", 3),
		},
		DeployTargets: loadDeployTargets(cfgFile),
	}

	return cfg, validate(cfg)
}

// loadDeployTargets reads [deploy_target.<id>] child sections
func loadDeployTargets(cfgFile *ini.File) []DeployTargetConfig {
	var targets []DeployTargetConfig

	for _, section := range cfgFile.ChildSections("deploy_target") {
		id := strings.TrimPrefix(section.Name(), "deploy_target.")
		if id == "" {
			continue
		}
		targets = append(targets, DeployTargetConfig{
			ID:           id,
			DeployScript: section.Key("deploy_script").String(),
			StatusScript: section.Key("status_script").String(),
		})
	}

	return targets
}
