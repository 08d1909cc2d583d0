package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/wagate/internal/config"
	"github.com/nextlevelbuilder/wagate/internal/store"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and manage the persisted WhatsApp session",
	}
	cmd.AddCommand(sessionInfoCmd())
	cmd.AddCommand(sessionBackupCmd())
	cmd.AddCommand(sessionResetCmd())
	cmd.AddCommand(sessionCleanupCmd())
	return cmd
}

// withSessionStore loads the config and opens the configured store for a
// one-shot command. The gateway should be stopped while it runs.
func withSessionStore(fn func(ctx context.Context, st store.SessionStore) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()
	st, err := openSessionStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer st.Close()
	return fn(ctx, st)
}

func sessionInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the auth files of the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionStore(func(ctx context.Context, st store.SessionStore) error {
				info, err := st.Info(ctx)
				if err != nil {
					return err
				}
				printSessionInfo(info)
				return nil
			})
		},
	}
}

func printSessionInfo(info *store.SessionInfo) {
	fmt.Printf("  %-14s %s\n", "Location:", info.Location)
	fmt.Printf("  %-14s %v\n", "Exists:", info.Exists)
	fmt.Printf("  %-14s %d\n", "Files:", info.TotalFiles)
	if info.LastModified != nil {
		fmt.Printf("  %-14s %s\n", "Last modified:", info.LastModified.Local().Format(time.RFC3339))
	}
	if len(info.Files) == 0 {
		return
	}
	fmt.Println()
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tTYPE\tSIZE\tMODIFIED")
	for _, f := range info.Files {
		fmt.Fprintf(tw, "  %s\t%s\t%d\t%s\n", f.Name, f.Type, f.Size, f.Modified.Local().Format(time.RFC3339))
	}
	tw.Flush()
}

func sessionBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Copy the session to a timestamped backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionStore(func(ctx context.Context, st store.SessionStore) error {
				res, err := st.Backup(ctx)
				if errors.Is(err, store.ErrNoSession) {
					fmt.Println("No session to back up.")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Printf("Backed up %d file(s) to %s\n", res.Files, res.Location)
				return nil
			})
		},
	}
}

func sessionResetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the session so the next start pairs again",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete the session without --yes")
			}
			return withSessionStore(func(ctx context.Context, st store.SessionStore) error {
				if err := st.Reset(ctx); err != nil {
					return err
				}
				fmt.Println("Session deleted. Scan the QR code on next start.")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}

func sessionCleanupCmd() *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stale auth files, keeping the credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionStore(func(ctx context.Context, st store.SessionStore) error {
				n, err := st.CleanupOld(ctx, maxAge)
				if err != nil {
					return err
				}
				fmt.Printf("Removed %d file(s) older than %s\n", n, maxAge)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 7*24*time.Hour, "remove files not modified within this window")
	return cmd
}
