package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig holds derived runtime values that other packages may query
// at runtime (populated during startup after merging env+file).
type RuntimeConfig struct {
	BackendKeys  map[string]struct{}
	FrontendKeys map[string]struct{}
}

var (
	runtimeMu  sync.RWMutex
	runtimeCfg *RuntimeConfig
)

// SetRuntime sets the canonical runtime config used by the running server.
func SetRuntime(rc *RuntimeConfig) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	runtimeCfg = rc
}

// GetBackendKeys returns a copy of configured backend keys.
func GetBackendKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := map[string]struct{}{}
	if runtimeCfg == nil || runtimeCfg.BackendKeys == nil {
		return out
	}
	for k := range runtimeCfg.BackendKeys {
		out[k] = struct{}{}
	}
	return out
}

// GetFrontendKeys returns a copy of configured frontend keys.
func GetFrontendKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := map[string]struct{}{}
	if runtimeCfg == nil || runtimeCfg.FrontendKeys == nil {
		return out
	}
	for k := range runtimeCfg.FrontendKeys {
		out[k] = struct{}{}
	}
	return out
}

// Load reads the YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// EffectiveConfigResult is the merged config plus the resolved listen
// address and DB path after flags/env/file precedence is applied.
type EffectiveConfigResult struct {
	Config   *Config
	Addr     string
	DBPath   string
	Sources  []string
	CfgPath  string
	FileUsed bool
}

// LoadEffective merges the config file (if present), environment variables
// and command-line flags. Precedence: flags > env > file > defaults.
func LoadEffective(flags Flags) (EffectiveConfigResult, error) {
	res := EffectiveConfigResult{Config: &Config{}}

	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	res.CfgPath = cfgPath
	if cfg, err := Load(cfgPath); err == nil {
		res.Config = cfg
		res.FileUsed = true
		res.Sources = append(res.Sources, "config")
	} else if !os.IsNotExist(err) {
		return res, err
	}

	if ApplyEnv(res.Config) {
		res.Sources = append(res.Sources, "env")
	}
	if len(flags.Set) > 0 {
		res.Sources = append(res.Sources, "flags")
	}

	// resolve address and db path
	res.Addr = res.Config.Addr()
	if flags.Set["addr"] {
		res.Addr = flags.Addr
	}
	if res.Addr == "" {
		res.Addr = flags.Addr
	}
	res.DBPath = res.Config.Server.DBPath
	if flags.Set["db"] || res.DBPath == "" {
		res.DBPath = flags.DB
	}

	ApplyDefaults(res.Config)
	return res, nil
}

// ApplyDefaults fills canonical defaults for values left unset. Callers
// downstream (stream registry, orchestrator) rely on these being applied
// and abort startup otherwise.
func ApplyDefaults(cfg *Config) {
	if cfg.Engine.MaxLoops == 0 {
		cfg.Engine.MaxLoops = 12
	}
	if cfg.Engine.StepTimeout == 0 {
		cfg.Engine.StepTimeout = Duration(60 * time.Second)
	}
	if cfg.Engine.RouterTimeout == 0 {
		cfg.Engine.RouterTimeout = Duration(15 * time.Second)
	}
	if cfg.Stream.Dir == "" {
		cfg.Stream.Dir = "./.streams"
	}
	if cfg.Stream.MaxRecordBytes == 0 {
		cfg.Stream.MaxRecordBytes = SizeBytes(1 << 20)
	}
	if cfg.Retention.Cron == "" {
		cfg.Retention.Cron = "0 * * * *"
	}
	if cfg.Retention.Period == 0 {
		cfg.Retention.Period = Duration(72 * time.Hour)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
