package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv parses numeric env values
	"time"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env       string // application environment (e.g. "dev", "prod")
	Port      string // HTTP port to listen on
	LogLevel  string // zerolog level name
	DBUser    string // database username
	DBPass    string // database password (optional)
	DBHost    string // database host address
	DBPort    string // database port number
	DBName    string // database name
	JWTSecret string // secret used to verify JWTs issued by the intake service

	LedgerBackend   string // "redis" or "memory"
	LedgerPrefix    string // Redis key namespace for capacity counters
	LedgerPruneCron string // cron spec for dropping stale counters
	ScoringFile     string // optional YAML file with scoring weights and tier table
	ConsumerEnabled bool   // run the booking audit-log consumer in-process

	Engine Engine
}

// Engine holds the scheduling options the booking engine recognizes.
type Engine struct {
	LookaheadDays               int
	MaxDailySubmissions         int
	PerChannelDailyCap          int
	DefaultChannelCount         int
	HealthyUtilizationThreshold float64
	AvailableChannelFloor       int
	ScheduleTimeout             time.Duration
	Location                    *time.Location // calendar used to decide "tomorrow"
}

// DefaultEngine returns the engine defaults.
func DefaultEngine() Engine {
	return Engine{
		LookaheadDays:               14,
		MaxDailySubmissions:         20,
		PerChannelDailyCap:          1,
		DefaultChannelCount:         5,
		HealthyUtilizationThreshold: 0.75,
		AvailableChannelFloor:       3,
		ScheduleTimeout:             5 * time.Second,
		Location:                    time.UTC,
	}
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:       must("APP_ENV"),                // environment (dev/test/prod)
		Port:      must("APP_PORT"),               // port to bind the HTTP server
		LogLevel:  envStr("LOG_LEVEL", "info"),    // log verbosity
		DBUser:    must("DB_USER"),                // database user
		DBPass:    os.Getenv("DB_PASS"),           // database password (empty allowed)
		DBHost:    must("DB_HOST"),                // database host
		DBPort:    must("DB_PORT"),                // database port
		DBName:    must("DB_NAME"),                // database name
		JWTSecret: must("JWT_SECRET"),             // secret used for verifying JWTs

		LedgerBackend:   envStr("LEDGER_BACKEND", "redis"),
		LedgerPrefix:    envStr("LEDGER_PREFIX", "ledger"),
		LedgerPruneCron: envStr("LEDGER_PRUNE_CRON", "@daily"),
		ScoringFile:     os.Getenv("SCORING_CONFIG_PATH"),
		ConsumerEnabled: envBool("QUEUE_CONSUMER_ENABLED", false),

		Engine: LoadEngine(),
	}
}

// LoadEngine reads the engine options, falling back to DefaultEngine values.
func LoadEngine() Engine {
	def := DefaultEngine()
	e := Engine{
		LookaheadDays:               envInt("LOOKAHEAD_DAYS", def.LookaheadDays),
		MaxDailySubmissions:         envInt("MAX_DAILY_SUBMISSIONS", def.MaxDailySubmissions),
		PerChannelDailyCap:          envInt("PER_CHANNEL_DAILY_CAP", def.PerChannelDailyCap),
		DefaultChannelCount:         envInt("DEFAULT_CHANNEL_COUNT", def.DefaultChannelCount),
		HealthyUtilizationThreshold: envFloat("HEALTHY_UTILIZATION", def.HealthyUtilizationThreshold),
		AvailableChannelFloor:       envInt("AVAILABLE_CHANNEL_FLOOR", def.AvailableChannelFloor),
		ScheduleTimeout:             envDur("SCHEDULE_TIMEOUT", def.ScheduleTimeout),
		Location:                    def.Location,
	}
	if tz := os.Getenv("SCHEDULE_TZ"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			log.Fatalf("invalid SCHEDULE_TZ %q: %v", tz, err)
		}
		e.Location = loc
	}
	if e.LookaheadDays < 1 {
		e.LookaheadDays = 1
	}
	if e.MaxDailySubmissions < 1 {
		e.MaxDailySubmissions = 1
	}
	if e.PerChannelDailyCap < 1 {
		e.PerChannelDailyCap = 1
	}
	if e.DefaultChannelCount < 1 {
		e.DefaultChannelCount = 1
	}
	if e.HealthyUtilizationThreshold <= 0 || e.HealthyUtilizationThreshold > 1 {
		e.HealthyUtilizationThreshold = def.HealthyUtilizationThreshold
	}
	if e.AvailableChannelFloor < 0 {
		e.AvailableChannelFloor = 0
	}
	if e.ScheduleTimeout <= 0 {
		e.ScheduleTimeout = def.ScheduleTimeout
	}
	return e
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envFloat(k string, d float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return d
}
