// Package config loads service configuration from an optional config file,
// an optional .env file and PAYFLOW_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/warp/payment-engine/logger"
	"github.com/warp/payment-engine/workflow"
)

// EnvPrefix is prepended to every environment override, e.g.
// PAYFLOW_DATABASE_PATH or PAYFLOW_WORKFLOW_SPLIT_STRICT.
const EnvPrefix = "PAYFLOW"

// Config holds all application configuration
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Log      LogConfig
	HTTP     HTTPConfig
	Workflow WorkflowConfig
}

type AppConfig struct {
	Name string
	Env  string
	Port string
}

type DatabaseConfig struct {
	Path string // SQLite file, or ":memory:"
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	RequestTimeout   time.Duration
	ShutdownTimeout  time.Duration
	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string
}

// WorkflowConfig holds payment dispatch settings. Rates and the tolerance
// are decimal strings so they never pass through float64.
type WorkflowConfig struct {
	FederalTaxRate  string
	StateTaxRate    string
	PayrollProvider string
	SplitStrict     bool
	SplitTolerance  string
	AllowRedispatch bool
}

// LoadDotEnv loads the given .env files (".env" when none are given) into
// the process environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error loading %s: %w", p, err)
		}
	}
	return nil
}

// Load builds the configuration. Priority (highest to lowest):
//  1. Values bound on v by the caller (command-line flags)
//  2. Environment variables with the PAYFLOW_ prefix
//  3. configFile, or config.toml in the working directory
//  4. Built-in defaults
//
// v may be nil.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Booleans whose default is true cannot be told apart from "unset"
	// after the fact.
	v.SetDefault("workflow.split_strict", true)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			RequestTimeout:   v.GetDuration("http.request_timeout"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods: v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders: v.GetStringSlice("http.cors_allow_headers"),
		},
		Workflow: WorkflowConfig{
			FederalTaxRate:  v.GetString("workflow.federal_tax_rate"),
			StateTaxRate:    v.GetString("workflow.state_tax_rate"),
			PayrollProvider: v.GetString("workflow.payroll_provider"),
			SplitStrict:     v.GetBool("workflow.split_strict"),
			SplitTolerance:  v.GetString("workflow.split_tolerance"),
			AllowRedispatch: v.GetBool("workflow.allow_redispatch"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "payflow"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "payflow.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		if cfg.IsProduction() {
			cfg.Log.Format = "json"
		} else {
			cfg.Log.Format = "console"
		}
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.RequestTimeout == 0 {
		cfg.HTTP.RequestTimeout = 10 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if len(cfg.HTTP.CORSAllowOrigins) == 0 {
		cfg.HTTP.CORSAllowOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Actor-ID", "X-Tenant-ID"}
	}

	def := workflow.DefaultConfig()
	if cfg.Workflow.FederalTaxRate == "" {
		cfg.Workflow.FederalTaxRate = def.FederalTaxRate.String()
	}
	if cfg.Workflow.StateTaxRate == "" {
		cfg.Workflow.StateTaxRate = def.StateTaxRate.String()
	}
	if cfg.Workflow.PayrollProvider == "" {
		cfg.Workflow.PayrollProvider = def.PayrollProvider
	}
	if cfg.Workflow.SplitTolerance == "" {
		cfg.Workflow.SplitTolerance = def.SplitTolerance.String()
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

// validate checks every field and reports all problems at once.
func (c *Config) validate() error {
	var errs []error

	if port, err := strconv.Atoi(c.App.Port); err != nil || port < 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("app.port must be a port number, got %q", c.App.Port))
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}

	rates := make(map[string]decimal.Decimal, 2)
	for key, raw := range map[string]string{
		"workflow.federal_tax_rate": c.Workflow.FederalTaxRate,
		"workflow.state_tax_rate":   c.Workflow.StateTaxRate,
	} {
		r, err := decimal.NewFromString(raw)
		if err != nil || r.IsNegative() || r.GreaterThan(decimal.NewFromInt(1)) {
			errs = append(errs, fmt.Errorf("%s must be a decimal between 0 and 1, got %q", key, raw))
			continue
		}
		rates[key] = r
	}
	if len(rates) == 2 {
		combined := rates["workflow.federal_tax_rate"].Add(rates["workflow.state_tax_rate"]).Add(workflow.FICARate)
		if combined.GreaterThan(decimal.NewFromInt(1)) {
			errs = append(errs, fmt.Errorf("workflow.federal_tax_rate + workflow.state_tax_rate + FICA (%s) must not exceed 1, got %s",
				workflow.FICARate, combined))
		}
	}
	if tol, err := decimal.NewFromString(c.Workflow.SplitTolerance); err != nil || tol.IsNegative() {
		errs = append(errs, fmt.Errorf("workflow.split_tolerance must be a non-negative decimal, got %q", c.Workflow.SplitTolerance))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.App.Port
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// Logger builds the logger configuration, starting from the production
// preset when the service runs in production.
func (c *Config) Logger() *logger.Config {
	lc := logger.DefaultConfig()
	if c.IsProduction() {
		lc = logger.ProductionConfig()
	}
	lc.Level = c.Log.Level
	lc.Format = c.Log.Format
	lc.Output = c.Log.Output
	return lc
}

// Dispatch converts the workflow section for workflow.NewDispatcher.
// It must only be called on a validated Config.
func (c *Config) Dispatch() workflow.Config {
	return workflow.Config{
		FederalTaxRate:  decimal.RequireFromString(c.Workflow.FederalTaxRate),
		StateTaxRate:    decimal.RequireFromString(c.Workflow.StateTaxRate),
		PayrollProvider: c.Workflow.PayrollProvider,
		SplitStrict:     c.Workflow.SplitStrict,
		SplitTolerance:  decimal.RequireFromString(c.Workflow.SplitTolerance),
		AllowRedispatch: c.Workflow.AllowRedispatch,
	}
}
