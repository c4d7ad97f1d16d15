package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var format string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the backups of the backup directory, newest first.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if format != "txt" && format != "json" {
			return fmt.Errorf("unsupported format: %s, support [txt, json]", format)
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		manager := newManager(cfg)

		backups, err := manager.ListBackups()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()

		if format == "json" {
			encoder := json.NewEncoder(out)
			encoder.SetEscapeHTML(false)

			return encoder.Encode(backups)
		}

		if len(backups) == 0 {
			_, err := fmt.Fprintf(out, "no backups found in %s\n", manager.Dir())
			return err
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCREATED AT\tSIZE")

		for _, b := range backups {
			fmt.Fprintf(w, "%s\t%s\t%d\n", b.Name(), b.CreatedAt().Format(time.DateTime), b.Size())
		}

		return w.Flush()
	},
}

func init() {
	listCmd.Flags().StringVar(&format, "format", "txt", "output format, txt or json (optional)")
}
