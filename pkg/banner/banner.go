package banner

import (
	"fmt"

	"draftflow/pkg/config"
)

const banner = `
██████╗ ██████╗  █████╗ ███████╗████████╗███████╗██╗      ██████╗ ██╗    ██╗
██╔══██╗██╔══██╗██╔══██╗██╔════╝╚══██╔══╝██╔════╝██║     ██╔═══██╗██║    ██║
██║  ██║██████╔╝███████║█████╗     ██║   █████╗  ██║     ██║   ██║██║ █╗ ██║
██║  ██║██╔══██╗██╔══██║██╔══╝     ██║   ██╔══╝  ██║     ██║   ██║██║███╗██║
██████╔╝██║  ██║██║  ██║██║        ██║   ██║     ███████╗╚██████╔╝╚███╔███╔╝
╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚═╝        ╚═╝   ╚═╝     ╚══════╝ ╚═════╝  ╚══╝╚══╝
`

// Print prints the startup banner with the effective runtime configuration.
func Print(eff config.EffectiveConfigResult, version string) {
	cfg := eff.Config

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:      %s\n", eff.Addr)
	fmt.Printf("DB Path:     %s\n", eff.DBPath)
	fmt.Printf("Streams:     %s\n", cfg.Stream.Dir)
	if version != "" {
		fmt.Printf("Version:     %s\n", version)
	}
	if len(eff.Sources) > 0 {
		fmt.Printf("Sources:     %v\n", eff.Sources)
	}

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/chats                     - Create a chat")
	fmt.Println("POST /v1/chats/{id}/messages       - Send a turn; streams the reply (SSE)")
	fmt.Println("GET  /v1/runs/{id}/stream?offset=N - Reattach to an in-flight run")

	fmt.Println("\n== Production? ================================================")
	if n := len(cfg.Security.APIKeys.Backend); n > 0 {
		fmt.Printf("- Backend API keys: OK (%d)\n", n)
	} else {
		fmt.Println("- Backend API keys: MISSING (required for backend services)")
	}
	if n := len(cfg.Security.APIKeys.Frontend); n > 0 {
		fmt.Printf("- Frontend API keys: OK (%d)\n", n)
	} else {
		fmt.Println("- Frontend API keys: MISSING (required for client access)")
	}
	if cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != "" {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}
	if cfg.Retention.Enabled {
		fmt.Printf("- Retention: enabled (cron=%s period=%s)\n", cfg.Retention.Cron, cfg.Retention.Period.Duration())
	} else {
		fmt.Println("- Retention: disabled (chunk logs accumulate)")
	}

	fmt.Println("\n== Logs =======================================================")
}
