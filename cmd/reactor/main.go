package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newRootCmd 创建命令行入口: serve / plan / recover
func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "reactor",
		Short:         "Deposition reactor recipe controller",
		Long:          "Drives ALD/CVD and plasma-enhanced recipes on the reactor and serves the operator API.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml)")

	root.AddCommand(
		newServeCmd(&configPath),
		newPlanCmd(&configPath),
		newRecoverCmd(&configPath),
	)
	return root
}

// main 是应用程序的主入口
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
