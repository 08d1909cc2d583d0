package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/wagate/internal/config"
	"github.com/nextlevelbuilder/wagate/internal/triggers"
)

func triggersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "triggers",
		Short: "Inspect the trigger table",
	}
	cmd.AddCommand(triggersListCmd())
	cmd.AddCommand(triggersMatchCmd())
	return cmd
}

func loadTriggerTable() (*triggers.Table, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	table, err := triggers.NewTable(cfg.Triggers.Definitions())
	if err != nil {
		return nil, err
	}
	table.SetEnabled(cfg.Triggers.Enabled)
	return table, nil
}

func triggersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured triggers in match order",
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := loadTriggerTable()
			if err != nil {
				return err
			}
			snap := table.Snapshot()
			fmt.Printf("Triggers enabled: %v\n\n", snap.Enabled)

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PREFIX\tTYPE\tENABLED\tREPLY\tRESPONSE")
			for _, d := range snap.Triggers {
				fmt.Fprintf(tw, "%s\t%s\t%v\t%v\t%s\n", d.Prefix, d.Kind, d.Enabled, d.ReplyEnabled, describeResponse(d))
			}
			return tw.Flush()
		},
	}
}

func triggersMatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "match <text>",
		Short: "Show which trigger a message would fire",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := loadTriggerTable()
			if err != nil {
				return err
			}
			def, ok := table.Match(strings.Join(args, " "))
			if !ok {
				fmt.Println("No trigger matches.")
				return nil
			}
			fmt.Printf("%s -> %s\n", def.Prefix, describeResponse(def))
			return nil
		},
	}
}

func describeResponse(d triggers.Definition) string {
	if d.Kind == triggers.KindHandler {
		return "handler " + d.Handler.String()
	}
	text := strings.ReplaceAll(d.Response, "\n", " ")
	if r := []rune(text); len(r) > 48 {
		text = string(r[:45]) + "..."
	}
	return text
}
