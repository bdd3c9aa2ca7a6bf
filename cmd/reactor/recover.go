package main

import (
	"fmt"

	"ald-reactor/internal/config"
	"ald-reactor/internal/persistence"

	"github.com/spf13/cobra"
)

func newRecoverCmd(configPath *string) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "List runs whose log has a start but no ending",
		Long:  "Scans the run log directory for runs interrupted by a crash or power loss. Runs are never resumed automatically.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				cfg, err := config.LoadConfig(*configPath)
				if err != nil {
					return err
				}
				dir = cfg.RunLogDir
			}
			records, err := persistence.ScanInterrupted(dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "no interrupted runs")
				return nil
			}
			for _, rec := range records {
				cycles := "-"
				if n, ok := rec.CyclesDone(); ok {
					cycles = fmt.Sprint(n)
				}
				start, _ := rec.Get(persistence.KeyStart)
				fmt.Fprintf(out, "%s  %-14s start=%s cycles_done=%s\n", rec.RunID(), rec.Recipe(), start, cycles)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "run log directory (default run_log_dir from config)")
	return cmd
}
