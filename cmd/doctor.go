package cmd

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/wagate/internal/ai"
	"github.com/nextlevelbuilder/wagate/internal/config"
	"github.com/nextlevelbuilder/wagate/internal/triggers"
	"github.com/nextlevelbuilder/wagate/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	var probeAI bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(probeAI)
		},
	}
	cmd.Flags().BoolVar(&probeAI, "probe-ai", false, "send a one-token request to the AI endpoint")
	return cmd
}

func runDoctor(probeAI bool) {
	fmt.Println("wagate doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println()
	fmt.Println("  Bridge:")
	fmt.Printf("    %-12s %s\n", "URL:", cfg.WhatsApp.BridgeURL)
	fmt.Printf("    %-12s %s\n", "Reachable:", checkReachable(ctx, cfg.WhatsApp.BridgeURL))

	fmt.Println()
	fmt.Println("  Session:")
	fmt.Printf("    %-12s %s\n", "Driver:", cfg.Session.Driver)
	if cfg.Session.Driver == "postgres" {
		checkSecret("DSN", cfg.Session.PostgresDSN)
	} else {
		fmt.Printf("    %-12s %s\n", "Path:", config.ExpandHome(cfg.Session.Path))
	}
	if st, err := openSessionStore(ctx, cfg); err != nil {
		fmt.Printf("    %-12s OPEN FAILED (%s)\n", "Status:", err)
	} else {
		info, err := st.Info(ctx)
		switch {
		case err != nil:
			fmt.Printf("    %-12s READ FAILED (%s)\n", "Status:", err)
		case info.Exists:
			fmt.Printf("    %-12s paired (%d files)\n", "Status:", info.TotalFiles)
		default:
			fmt.Printf("    %-12s not paired, a QR code will be shown on start\n", "Status:")
		}
		st.Close()
	}
	if cfg.Session.CleanupSchedule != "" {
		fmt.Printf("    %-12s %s (max age %s)\n", "Cleanup:", cfg.Session.CleanupSchedule, cfg.Session.MaxAge())
	}

	fmt.Println()
	fmt.Println("  Collaborators:")
	checkEndpoint("Webhook", cfg.Webhook.Enabled, cfg.Webhook.Endpoint)
	checkEndpoint("Upload", cfg.Upload.Endpoint != "", cfg.Upload.Endpoint)
	checkSecret("Upload key", cfg.Upload.APIKey)
	checkSecret("OpenRouter", cfg.AI.APIKey)
	if probeAI && cfg.AI.APIKey != "" {
		status := "FAILED"
		if ai.NewClient(aiConfig(cfg)).Healthy(ctx) {
			status = "OK"
		}
		fmt.Printf("    %-12s %s\n", "AI probe:", status)
	}

	fmt.Println()
	fmt.Println("  Triggers:")
	if table, err := triggers.NewTable(cfg.Triggers.Definitions()); err != nil {
		fmt.Printf("    %-12s INVALID (%s)\n", "Table:", err)
	} else {
		fmt.Printf("    %-12s %v\n", "Enabled:", cfg.Triggers.Enabled)
		fmt.Printf("    %-12s %d\n", "Rows:", len(table.Definitions()))
	}

	fmt.Println()
	fmt.Println("  API:")
	fmt.Printf("    %-12s %s:%d\n", "Listen:", cfg.Gateway.Host, cfg.Gateway.Port)
	fmt.Printf("    %-12s %s\n", "Prefix:", cfg.Gateway.APIPrefix)
	checkSecret("Token", cfg.Gateway.Token)

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

// checkReachable opens and closes a TCP connection to the URL's host.
func checkReachable(ctx context.Context, raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "INVALID URL"
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "wss" || u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	d := net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return fmt.Sprintf("NO (%s)", err)
	}
	conn.Close()
	return "yes"
}

func checkEndpoint(name string, enabled bool, endpoint string) {
	switch {
	case !enabled:
		fmt.Printf("    %-12s disabled\n", name+":")
	case endpoint == "":
		fmt.Printf("    %-12s enabled (missing endpoint)\n", name+":")
	default:
		fmt.Printf("    %-12s %s\n", name+":", endpoint)
	}
}

func checkSecret(name, value string) {
	if value == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	fmt.Printf("    %-12s %s\n", name+":", maskSecret(value))
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
