package config

import (
	"flag"
	"net"
	"os"
	"strconv"
	"strings"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// ParseCommandFlags parses command-line flags and returns them as a Flags struct.
func ParseCommandFlags() Flags {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: setFlags}
}

// ResolveConfigPath picks the config path: an explicit flag wins over the
// DRAFTFLOW_CONFIG env var, which wins over the flag default.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet {
		return flagVal
	}
	if v := os.Getenv("DRAFTFLOW_CONFIG"); v != "" {
		return v
	}
	return flagVal
}

// ApplyEnv overlays DRAFTFLOW_* environment variables onto cfg and reports
// whether any were present.
func ApplyEnv(cfg *Config) bool {
	used := false

	if v := os.Getenv("DRAFTFLOW_ADDR"); v != "" {
		used = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("DRAFTFLOW_DB_PATH"); v != "" {
		used = true
		cfg.Server.DBPath = v
	}
	if v := os.Getenv("DRAFTFLOW_STREAM_DIR"); v != "" {
		used = true
		cfg.Stream.Dir = v
	}
	if v := os.Getenv("DRAFTFLOW_LOG_LEVEL"); v != "" {
		used = true
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DRAFTFLOW_MAX_LOOPS"); v != "" {
		used = true
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.MaxLoops = n
		}
	}
	if v := os.Getenv("DRAFTFLOW_BACKEND_KEYS"); v != "" {
		used = true
		cfg.Security.APIKeys.Backend = append(cfg.Security.APIKeys.Backend, parseList(v)...)
	}
	if v := os.Getenv("DRAFTFLOW_FRONTEND_KEYS"); v != "" {
		used = true
		cfg.Security.APIKeys.Frontend = append(cfg.Security.APIKeys.Frontend, parseList(v)...)
	}
	if v := os.Getenv("DRAFTFLOW_CATALOG_PATH"); v != "" {
		used = true
		cfg.Catalog.Path = v
	}
	return used
}

func parseList(v string) []string {
	if v == "" {
		return nil
	}
	parts := []string{}
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}
