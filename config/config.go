// Package config loads server settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/ulule/limiter/v3"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/timeoff"
)

// Config holds application configuration.
type Config struct {
	Port        string
	DBPath      string
	LogLevel    string
	LogFormat   string // "json" or "text"
	CORSOrigins []string
	RateLimit   string // ulule format, e.g. "120-M"

	Workflow timeoff.WorkflowConfig
	Retries  int

	SlackWebhookURL string
	AppURL          string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	NotifyQueueKey  string

	PayCycle generic.PayCycle
	Accrual  timeoff.AccrualRule

	SchedulerEnabled  bool
	SchedulerInterval time.Duration
	AutoAccrual       bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_PATH", "./data/leave.db")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT", "120-M")

	v.SetDefault("LEAVE_WORKFLOW", string(timeoff.ModeAutoApprove))
	v.SetDefault("COMPOFF_WORKFLOW", string(timeoff.ModeStaged))
	v.SetDefault("REQUIRE_MANAGER_APPROVAL", true)
	v.SetDefault("CONFLICT_RETRIES", generic.DefaultRetryAttempts)
	v.SetDefault("NOTIFY_TIMEOUT", "5s")

	v.SetDefault("SLACK_WEBHOOK_URL", "")
	v.SetDefault("APP_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("NOTIFY_QUEUE_KEY", "leave_notifications")

	v.SetDefault("PAY_CYCLE_CUTOFF_DAY", generic.DefaultPayCycle.CutoffDay)
	v.SetDefault("PAY_CYCLE_INCLUSIVE_END", false)
	v.SetDefault("ACCRUAL_REGULAR_RATE", "1.3")
	v.SetDefault("ACCRUAL_QUARTER_RATE", "1.4")
	v.SetDefault("ACCRUAL_STANDARD_RATE", "1")
	v.SetDefault("ACCRUAL_SICK_RATE", "1")

	v.SetDefault("SCHEDULER_ENABLED", true)
	v.SetDefault("SCHEDULER_INTERVAL", "1h")
	v.SetDefault("AUTO_ACCRUAL", false)
}

// Load reads .env if present, then the environment, which wins.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:            v.GetString("PORT"),
		DBPath:          v.GetString("DB_PATH"),
		LogLevel:        strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat:       strings.ToLower(v.GetString("LOG_FORMAT")),
		CORSOrigins:     splitList(v.GetString("CORS_ORIGINS")),
		RateLimit:       v.GetString("RATE_LIMIT"),
		Retries:         v.GetInt("CONFLICT_RETRIES"),
		SlackWebhookURL: v.GetString("SLACK_WEBHOOK_URL"),
		AppURL:          v.GetString("APP_URL"),
		RedisAddr:       v.GetString("REDIS_ADDR"),
		RedisPassword:   v.GetString("REDIS_PASSWORD"),
		RedisDB:         v.GetInt("REDIS_DB"),
		NotifyQueueKey:  v.GetString("NOTIFY_QUEUE_KEY"),
		PayCycle: generic.PayCycle{
			CutoffDay:    v.GetInt("PAY_CYCLE_CUTOFF_DAY"),
			InclusiveEnd: v.GetBool("PAY_CYCLE_INCLUSIVE_END"),
		},
		SchedulerEnabled:  v.GetBool("SCHEDULER_ENABLED"),
		SchedulerInterval: v.GetDuration("SCHEDULER_INTERVAL"),
		AutoAccrual:       v.GetBool("AUTO_ACCRUAL"),
	}

	leaveMode, err := timeoff.ParseMode(strings.ToLower(v.GetString("LEAVE_WORKFLOW")))
	if err != nil {
		return Config{}, fmt.Errorf("LEAVE_WORKFLOW: %w", err)
	}
	compOffMode, err := timeoff.ParseMode(strings.ToLower(v.GetString("COMPOFF_WORKFLOW")))
	if err != nil {
		return Config{}, fmt.Errorf("COMPOFF_WORKFLOW: %w", err)
	}
	cfg.Workflow = timeoff.WorkflowConfig{
		LeaveMode:      leaveMode,
		CompOffMode:    compOffMode,
		RequireManager: v.GetBool("REQUIRE_MANAGER_APPROVAL"),
		NotifyTimeout:  v.GetDuration("NOTIFY_TIMEOUT"),
	}

	rates := map[string]*decimal.Decimal{
		"ACCRUAL_REGULAR_RATE":  &cfg.Accrual.RegularRate,
		"ACCRUAL_QUARTER_RATE":  &cfg.Accrual.QuarterRate,
		"ACCRUAL_STANDARD_RATE": &cfg.Accrual.StandardRate,
		"ACCRUAL_SICK_RATE":     &cfg.Accrual.SickRate,
	}
	for key, dst := range rates {
		d, err := decimal.NewFromString(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Port == "" {
		return &generic.ValidationError{Field: "PORT", Message: "is required"}
	}
	if c.DBPath == "" {
		return &generic.ValidationError{Field: "DB_PATH", Message: "is required"}
	}
	if c.Retries < 1 {
		return &generic.ValidationError{Field: "CONFLICT_RETRIES", Message: "must be at least 1"}
	}
	if c.SchedulerEnabled && c.SchedulerInterval <= 0 {
		return &generic.ValidationError{Field: "SCHEDULER_INTERVAL", Message: "must be positive"}
	}
	if c.RateLimit != "" {
		if _, err := limiter.NewRateFromFormatted(c.RateLimit); err != nil {
			return &generic.ValidationError{Field: "RATE_LIMIT", Message: err.Error()}
		}
	}
	if err := c.Workflow.Validate(); err != nil {
		return err
	}
	if err := c.PayCycle.Validate(); err != nil {
		return err
	}
	return c.Accrual.Validate()
}

// Rate returns the parsed request rate limit. ok is false when RATE_LIMIT
// is empty, which disables limiting.
func (c Config) Rate() (rate limiter.Rate, ok bool, err error) {
	if c.RateLimit == "" {
		return limiter.Rate{}, false, nil
	}
	rate, err = limiter.NewRateFromFormatted(c.RateLimit)
	if err != nil {
		return limiter.Rate{}, false, err
	}
	return rate, true, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
