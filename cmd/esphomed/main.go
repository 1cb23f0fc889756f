package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"esphomed/internal/config"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

func buildRoot() *cobra.Command {
	gf := &GlobalFlags{}
	root := &cobra.Command{
		Use:   "esphomed",
		Short: "Supervise the ESPHome dashboard and keep it up to date",
		Long: "esphomed runs the ESPHome dashboard as a supervised child process,\n" +
			"monitors its health, and installs new releases from the package registry.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&gf.ConfigPath, "config", "",
		"config file path (default "+config.DefaultPath()+")")

	root.AddCommand(
		newServeCmd(gf),
		newStatusCmd(gf),
		newStartCmd(gf),
		newStopCmd(gf),
		newRestartCmd(gf),
		newUpdateCmd(gf),
		newCheckUpdateCmd(gf),
		newOpenCmd(gf),
		newVersionCmd(gf),
		newHistoryCmd(gf),
		newConfigCmd(gf),
	)
	return root
}
