package notifyreviewoutcome

import (
	"fmt"
	"time"

	"loan-review-workers/internal/common/config"
	"loan-review-workers/internal/common/validation"
)

type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxJobsActive int           `mapstructure:"max_jobs_active"`
	Timeout       time.Duration `mapstructure:"timeout"`

	EmailEnabled  bool   `mapstructure:"email_enabled"`
	FromEmail     string `mapstructure:"from_email"`
	ReviewerEmail string `mapstructure:"reviewer_email"`
	SMSEnabled    bool   `mapstructure:"sms_enabled"`
	SMSSenderID   string `mapstructure:"sms_sender_id"`
}

func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       20 * time.Second,
	}
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxJobsActive <= 0 {
		return fmt.Errorf("max_jobs_active must be positive")
	}
	if c.EmailEnabled {
		if !validation.ValidateEmail(c.FromEmail) {
			return fmt.Errorf("from_email %q is not a valid address", c.FromEmail)
		}
		if c.ReviewerEmail != "" && !validation.ValidateEmail(c.ReviewerEmail) {
			return fmt.Errorf("reviewer_email %q is not a valid address", c.ReviewerEmail)
		}
	}
	return nil
}

func createConfigFromAppConfig(appConfig *config.Config, customConfig *Config) *Config {
	if customConfig != nil {
		return customConfig
	}

	cfg := DefaultConfig()
	if appConfig != nil {
		if workerCfg, exists := appConfig.Workers[TaskType]; exists {
			cfg.Enabled = workerCfg.Enabled
			if workerCfg.MaxJobsActive > 0 {
				cfg.MaxJobsActive = workerCfg.MaxJobsActive
			}
			if workerCfg.Timeout > 0 {
				cfg.Timeout = config.GetDuration(workerCfg.Timeout)
			}
		}

		n := appConfig.Notifications
		cfg.EmailEnabled = n.Email.Enabled
		cfg.FromEmail = n.Email.FromEmail
		cfg.ReviewerEmail = n.Email.ReviewerEmail
		cfg.SMSEnabled = n.SMS.Enabled
		cfg.SMSSenderID = n.SMS.SenderID
	}
	return cfg
}
