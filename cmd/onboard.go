package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/wagate/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup wizard that writes config.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

// onboardAnswers holds the wizard fields as the form edits them.
type onboardAnswers struct {
	BridgeURL       string
	Port            string
	Token           string
	SessionDriver   string
	SessionPath     string
	WebhookEndpoint string
	TriggersEnabled bool
	PrintQR         bool
}

func answersFrom(cfg *config.Config) onboardAnswers {
	return onboardAnswers{
		BridgeURL:       cfg.WhatsApp.BridgeURL,
		Port:            strconv.Itoa(cfg.Gateway.Port),
		Token:           cfg.Gateway.Token,
		SessionDriver:   cfg.Session.Driver,
		SessionPath:     cfg.Session.Path,
		WebhookEndpoint: cfg.Webhook.Endpoint,
		TriggersEnabled: cfg.Triggers.Enabled,
		PrintQR:         cfg.WhatsApp.PrintQR,
	}
}

// apply copies the answers onto cfg. Answers are validated by the form.
func (a onboardAnswers) apply(cfg *config.Config) {
	cfg.WhatsApp.BridgeURL = a.BridgeURL
	if port, err := strconv.Atoi(a.Port); err == nil {
		cfg.Gateway.Port = port
	}
	cfg.Gateway.Token = a.Token
	cfg.Session.Driver = a.SessionDriver
	cfg.Session.Path = a.SessionPath
	cfg.Webhook.Endpoint = a.WebhookEndpoint
	cfg.Webhook.Enabled = a.WebhookEndpoint != ""
	cfg.Triggers.Enabled = a.TriggersEnabled
	cfg.WhatsApp.PrintQR = a.PrintQR
}

func validatePort(s string) error {
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return errors.New("enter a port between 1 and 65535")
	}
	return nil
}

func validateWSURL(s string) error {
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return errors.New("enter a ws:// or wss:// URL")
	}
	return nil
}

func validateOptionalHTTPURL(s string) error {
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("enter an http:// or https:// URL, or leave empty")
	}
	return nil
}

func runOnboard() error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("Existing config could not be loaded (%s), starting from defaults.\n", err)
		cfg = config.Default()
	}
	ans := answersFrom(cfg)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bridge URL").
				Description("WebSocket endpoint of the WhatsApp Web bridge").
				Value(&ans.BridgeURL).
				Validate(validateWSURL),
			huh.NewInput().
				Title("HTTP port").
				Value(&ans.Port).
				Validate(validatePort),
			huh.NewInput().
				Title("API token").
				Description("Bearer token for the REST API, stored in .env.local. Leave empty to disable auth.").
				EchoMode(huh.EchoModePassword).
				Value(&ans.Token),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Session storage").
				Options(
					huh.NewOption("Files in a directory", "file"),
					huh.NewOption("SQLite database", "sqlite"),
					huh.NewOption("Postgres (WAGATE_POSTGRES_DSN)", "postgres"),
				).
				Value(&ans.SessionDriver),
			huh.NewInput().
				Title("Session path").
				Description("Auth directory, or database file for SQLite. Ignored for Postgres.").
				Value(&ans.SessionPath).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("session path is required")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Report webhook URL").
				Description("Where .a1 reports are posted. Leave empty to disable.").
				Value(&ans.WebhookEndpoint).
				Validate(validateOptionalHTTPURL),
			huh.NewConfirm().
				Title("Enable auto-reply triggers?").
				Value(&ans.TriggersEnabled),
			huh.NewConfirm().
				Title("Print pairing QR codes in the terminal?").
				Value(&ans.PrintQR),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled.")
			return nil
		}
		return fmt.Errorf("onboard: %w", err)
	}

	ans.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Println()
	fmt.Printf("Config written to %s\n", cfgPath)
	if ans.Token != "" {
		envPath := filepath.Join(filepath.Dir(cfgPath), ".env.local")
		if err := writeEnvFile(envPath, map[string]string{"WAGATE_GATEWAY_TOKEN": ans.Token}); err != nil {
			return fmt.Errorf("save secrets: %w", err)
		}
		fmt.Printf("Secrets written to %s. Load them before starting:\n\n  source %s && ./wagate\n\n", envPath, envPath)
	}
	if os.Getenv("OPENROUTER_API_KEY") == "" && os.Getenv("WAGATE_OPENROUTER_API_KEY") == "" {
		fmt.Println("Set WAGATE_OPENROUTER_API_KEY to enable AI report structuring.")
	}
	if ans.Token == "" {
		fmt.Println("Start the gateway with:  ./wagate")
	}
	return nil
}

// writeEnvFile writes export lines for the shell, readable by the owner only.
func writeEnvFile(path string, vars map[string]string) error {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%q\n", k, vars[k])
	}
	return os.WriteFile(path, []byte(b.String()), 0600)
}
