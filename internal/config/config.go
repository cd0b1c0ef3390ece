// Package config loads DAOKit's explicit configuration record from the
// environment and an optional settings file. There is no dynamic
// kwargs/config-object pattern and no public CLI flag for backend
// selection: every selector is sourced here.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// StoreDriver selects the persistence backend.
type StoreDriver string

const (
	StoreDriverFile   StoreDriver = "file"
	StoreDriverSQLite StoreDriver = "sqlite"
	StoreDriverMySQL  StoreDriver = "mysql"
)

// DispatchBackend selects the call adapter.
type DispatchBackend string

const (
	DispatchSubprocess DispatchBackend = "subprocess"
	DispatchLLM        DispatchBackend = "llm"
)

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	Driver StoreDriver
	Root   string // file backend root; the table backends use DSN only
	DSN    string // table backend data source name
}

// DispatchConfig configures the call adapter.
type DispatchConfig struct {
	Backend        DispatchBackend
	Command        []string // subprocess backend argv
	Timeout        time.Duration
	MaxReworks     int
	LLMProvider    string
	LLMAPIKey      string
	LLMBaseURL     string
	LLMModel       string
	LLMTemperature float64
	LLMMaxTokens   int64
	LLMMaxRetries  int
}

// HeartbeatConfig configures the liveness evaluator.
type HeartbeatConfig struct {
	WarningAfterSeconds int
	StaleAfterSeconds   int
	TickCron            string
}

// AcceptanceConfig configures the acceptance engine.
type AcceptanceConfig struct {
	RequireCommandLog bool
}

// Config is the complete, explicit DAOKit configuration record.
type Config struct {
	Root       string
	Store      StoreConfig
	Dispatch   DispatchConfig
	Heartbeat  HeartbeatConfig
	Acceptance AcceptanceConfig
}

// settingsFile mirrors the subset of Config that the internal settings
// file may override. Fields left zero-valued fall through to env/defaults.
type settingsFile struct {
	StoreDriver       string `json:"store_driver"`
	StoreDSN          string `json:"store_dsn"`
	DispatchBackend   string `json:"dispatch_backend"`
	DispatchCommand   []string `json:"dispatch_command"`
	LLMProvider       string `json:"llm_provider"`
	LLMModel          string `json:"llm_model"`
	WarningAfterSecs  int    `json:"warning_after_seconds"`
	StaleAfterSecs    int    `json:"stale_after_seconds"`
	RequireCommandLog *bool  `json:"require_command_log"`
}

// Load builds a Config for a run rooted at root: defaults, then the
// internal settings file at "<root>/state/settings.json" if present, then
// environment variables, in increasing precedence.
func Load(root string) (Config, error) {
	cfg := defaults(root)

	settingsPath := filepath.Join(root, "state", "settings.json")
	if data, err := os.ReadFile(settingsPath); err == nil {
		var sf settingsFile
		if err := json.Unmarshal(data, &sf); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", settingsPath, err)
		}
		applySettingsFile(&cfg, sf)
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: read %s: %w", settingsPath, err)
	}

	applyEnv(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults(root string) Config {
	return Config{
		Root: root,
		Store: StoreConfig{
			Driver: StoreDriverFile,
			Root:   root,
		},
		Dispatch: DispatchConfig{
			Backend:       DispatchSubprocess,
			Timeout:       2 * time.Minute,
			MaxReworks:    3,
			LLMProvider:   "openai",
			LLMModel:      "gpt-4o-mini",
			LLMMaxRetries: 3,
		},
		Heartbeat: HeartbeatConfig{
			WarningAfterSeconds: 900,
			StaleAfterSeconds:   1200,
			TickCron:            "*/30 * * * * *",
		},
		Acceptance: AcceptanceConfig{
			RequireCommandLog: true,
		},
	}
}

func applySettingsFile(cfg *Config, sf settingsFile) {
	if sf.StoreDriver != "" {
		cfg.Store.Driver = StoreDriver(sf.StoreDriver)
	}
	if sf.StoreDSN != "" {
		cfg.Store.DSN = sf.StoreDSN
	}
	if sf.DispatchBackend != "" {
		cfg.Dispatch.Backend = DispatchBackend(sf.DispatchBackend)
	}
	if len(sf.DispatchCommand) > 0 {
		cfg.Dispatch.Command = sf.DispatchCommand
	}
	if sf.LLMProvider != "" {
		cfg.Dispatch.LLMProvider = sf.LLMProvider
	}
	if sf.LLMModel != "" {
		cfg.Dispatch.LLMModel = sf.LLMModel
	}
	if sf.WarningAfterSecs > 0 {
		cfg.Heartbeat.WarningAfterSeconds = sf.WarningAfterSecs
	}
	if sf.StaleAfterSecs > 0 {
		cfg.Heartbeat.StaleAfterSeconds = sf.StaleAfterSecs
	}
	if sf.RequireCommandLog != nil {
		cfg.Acceptance.RequireCommandLog = *sf.RequireCommandLog
	}
}

// applyEnv overlays environment variables, which take precedence over both
// defaults and the settings file. Variable names follow the DAOKIT_ prefix.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DAOKIT_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = StoreDriver(v)
	}
	if v := os.Getenv("DAOKIT_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("DAOKIT_DISPATCH_BACKEND"); v != "" {
		cfg.Dispatch.Backend = DispatchBackend(v)
	}
	if v := os.Getenv("DAOKIT_DISPATCH_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.Timeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("DAOKIT_MAX_REWORKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.MaxReworks = n
		}
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.Dispatch.LLMProvider = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.Dispatch.LLMAPIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.Dispatch.LLMBaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.Dispatch.LLMModel = v
	}
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Dispatch.LLMTemperature = f
		}
	}
	if v := os.Getenv("LLM_MAX_TOKENS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Dispatch.LLMMaxTokens = n
		}
	}
	if v := os.Getenv("LLM_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.Timeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("DAOKIT_HEARTBEAT_WARNING_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Heartbeat.WarningAfterSeconds = n
		}
	}
	if v := os.Getenv("DAOKIT_HEARTBEAT_STALE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Heartbeat.StaleAfterSeconds = n
		}
	}
	if v := os.Getenv("DAOKIT_REQUIRE_COMMAND_LOG"); v != "" {
		cfg.Acceptance.RequireCommandLog = v != "false" && v != "0"
	}
}

func validate(cfg Config) error {
	switch cfg.Store.Driver {
	case StoreDriverFile, StoreDriverSQLite, StoreDriverMySQL:
	default:
		return fmt.Errorf("config: unknown store driver %q", cfg.Store.Driver)
	}
	switch cfg.Dispatch.Backend {
	case DispatchSubprocess, DispatchLLM:
	default:
		return fmt.Errorf("config: unknown dispatch backend %q", cfg.Dispatch.Backend)
	}
	if cfg.Heartbeat.StaleAfterSeconds < cfg.Heartbeat.WarningAfterSeconds {
		return fmt.Errorf("config: stale_after_seconds must be >= warning_after_seconds")
	}
	if cfg.Dispatch.Backend == DispatchSubprocess && len(cfg.Dispatch.Command) == 0 {
		return fmt.Errorf("config: dispatch backend %q requires a command", DispatchSubprocess)
	}
	return nil
}
