// Package config loads todocheck settings from a YAML file, TODOCHECK_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/todocheck/internal/browser"
	"github.com/roach88/todocheck/internal/harness"
	"github.com/roach88/todocheck/internal/locator"
	"github.com/roach88/todocheck/internal/verify"
)

const (
	configFileName = "todocheck"
	configFileType = "yaml"
	envPrefix      = "TODOCHECK"
)

// Config keys.
const (
	KeyBaseURL      = "base_url"
	KeyDriver       = "driver"
	KeyHeadless     = "headless"
	KeyParallel     = "parallel"
	KeyScenariosDir = "scenarios_dir"
	KeyDatabase     = "database"
	KeyArtifactsDir = "artifacts_dir"

	KeyResetTimeout   = "timeouts.reset"
	KeyActionTimeout  = "timeouts.action"
	KeyAssertTimeout  = "timeouts.assert"
	KeySessionTimeout = "timeouts.session"

	KeyPollInterval    = "poll.interval"
	KeyPollMaxInterval = "poll.max_interval"
	KeyPollMultiplier  = "poll.multiplier"
	KeyPollSettle      = "poll.settle_window"

	KeyIDTemplate      = "app.id_template"
	KeyTaskItems       = "app.task_items"
	KeyTabs            = "app.tabs"
	KeyAllowUncomplete = "app.allow_uncomplete"
)

// Config is the resolved configuration.
type Config struct {
	BaseURL      string
	Driver       string
	Headless     bool
	Parallel     int
	ScenariosDir string
	Database     string
	ArtifactsDir string

	ResetTimeout   time.Duration
	ActionTimeout  time.Duration
	AssertTimeout  time.Duration
	SessionTimeout time.Duration

	Poll    verify.PollOptions
	Profile harness.Profile
}

// New returns a viper instance with defaults, environment binding and, when
// found, the config file. An empty path searches the working directory for
// todocheck.yaml; a missing file there is not an error. An explicit path must
// exist.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	opts := harness.DefaultOptions()
	poll := verify.DefaultPollOptions()
	profile := harness.DefaultProfile()

	v.SetDefault(KeyBaseURL, opts.BaseURL)
	v.SetDefault(KeyDriver, browser.DriverChromedp)
	v.SetDefault(KeyHeadless, true)
	v.SetDefault(KeyParallel, 1)
	v.SetDefault(KeyScenariosDir, "scenarios")
	v.SetDefault(KeyDatabase, "todocheck.db")
	v.SetDefault(KeyArtifactsDir, "artifacts")

	v.SetDefault(KeyResetTimeout, opts.ResetTimeout.String())
	v.SetDefault(KeyActionTimeout, opts.ActionTimeout.String())
	v.SetDefault(KeyAssertTimeout, opts.AssertTimeout.String())
	v.SetDefault(KeySessionTimeout, opts.SessionTimeout.String())

	v.SetDefault(KeyPollInterval, poll.Interval.String())
	v.SetDefault(KeyPollMaxInterval, poll.MaxInterval.String())
	v.SetDefault(KeyPollMultiplier, poll.Multiplier)
	v.SetDefault(KeyPollSettle, poll.SettleWindow.String())

	v.SetDefault(KeyIDTemplate, string(profile.IDTemplate))
	v.SetDefault(KeyTaskItems, profile.TaskItems)
	v.SetDefault(KeyTabs, profile.Tabs)
	v.SetDefault(KeyAllowUncomplete, false)
}

// Load resolves v into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		BaseURL:      v.GetString(KeyBaseURL),
		Driver:       v.GetString(KeyDriver),
		Headless:     v.GetBool(KeyHeadless),
		Parallel:     v.GetInt(KeyParallel),
		ScenariosDir: v.GetString(KeyScenariosDir),
		Database:     v.GetString(KeyDatabase),
		ArtifactsDir: v.GetString(KeyArtifactsDir),
		Poll: verify.PollOptions{
			Multiplier: v.GetFloat64(KeyPollMultiplier),
		},
		Profile: harness.Profile{
			IDTemplate:      locator.IDTemplate(v.GetString(KeyIDTemplate)),
			TaskItems:       v.GetString(KeyTaskItems),
			Tabs:            v.GetStringMapString(KeyTabs),
			AllowUncomplete: v.GetBool(KeyAllowUncomplete),
		},
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{KeyResetTimeout, &cfg.ResetTimeout},
		{KeyActionTimeout, &cfg.ActionTimeout},
		{KeyAssertTimeout, &cfg.AssertTimeout},
		{KeySessionTimeout, &cfg.SessionTimeout},
		{KeyPollInterval, &cfg.Poll.Interval},
		{KeyPollMaxInterval, &cfg.Poll.MaxInterval},
		{KeyPollSettle, &cfg.Poll.SettleWindow},
	}
	var errs []string
	for _, d := range durations {
		parsed, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid duration %q", d.key, v.GetString(d.key)))
			continue
		}
		*d.dst = parsed
	}
	errs = append(errs, cfg.validate()...)

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return cfg, nil
}

func (c *Config) validate() []string {
	var errs []string
	if c.BaseURL == "" {
		errs = append(errs, "base_url must not be empty")
	}
	if c.Driver != browser.DriverChromedp && c.Driver != browser.DriverPlaywright {
		errs = append(errs, fmt.Sprintf("driver %q is invalid, must be one of: %s, %s",
			c.Driver, browser.DriverChromedp, browser.DriverPlaywright))
	}
	if c.Parallel < 1 {
		errs = append(errs, fmt.Sprintf("parallel must be at least 1, got %d", c.Parallel))
	}
	for key, d := range map[string]time.Duration{
		KeyResetTimeout:   c.ResetTimeout,
		KeyActionTimeout:  c.ActionTimeout,
		KeyAssertTimeout:  c.AssertTimeout,
		KeySessionTimeout: c.SessionTimeout,
		KeyPollInterval:   c.Poll.Interval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Sprintf("%s must not be negative", key))
		}
	}
	if c.Poll.Multiplier < 1 {
		errs = append(errs, fmt.Sprintf("%s must be at least 1, got %v", KeyPollMultiplier, c.Poll.Multiplier))
	}
	if err := c.Profile.IDTemplate.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("%s: %v", KeyIDTemplate, err))
	}
	return errs
}

// HarnessOptions maps the config onto harness options. Logger and tracer are
// left for the caller.
func (c *Config) HarnessOptions() harness.Options {
	return harness.Options{
		BaseURL:        c.BaseURL,
		ResetTimeout:   c.ResetTimeout,
		ActionTimeout:  c.ActionTimeout,
		AssertTimeout:  c.AssertTimeout,
		SessionTimeout: c.SessionTimeout,
		Profile:        c.Profile,
		Poll:           c.Poll,
		ArtifactsDir:   c.ArtifactsDir,
	}
}

// BrowserOptions maps the config onto browser options.
func (c *Config) BrowserOptions() browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = c.Headless
	return opts
}
