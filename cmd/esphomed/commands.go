package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"esphomed/internal/config"
	"esphomed/internal/ui"
	"esphomed/pkg/client"
)

func apiClient(gf *GlobalFlags) (*client.Client, error) {
	cfg, err := config.Load(gf.ConfigPath)
	if err != nil {
		return nil, err
	}
	base := "http://" + cfg.Server.Listen + cfg.Server.BasePath
	return client.New(client.Config{BaseURL: base}), nil
}

func requireDaemon(ctx context.Context, c *client.Client) error {
	if !c.IsReachable(ctx) {
		return fmt.Errorf("esphomed is not running (start it with: esphomed serve)")
	}
	return nil
}

func newStatusCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the dashboard status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(gf)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := requireDaemon(ctx, c); err != nil {
				return err
			}
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("state:   %s\n", st.State)
			fmt.Printf("port:    %d\n", st.Port)
			if st.Running {
				fmt.Printf("pid:     %d\n", st.PID)
				fmt.Printf("uptime:  %s\n", time.Since(st.StartedAt).Round(time.Second))
			}
			if st.LastExit != "" {
				fmt.Printf("exit:    %s\n", st.LastExit)
			}
			if st.LogPath != "" {
				fmt.Printf("log:     %s\n", st.LogPath)
			}
			return nil
		},
	}
}

func lifecycleCmd(gf *GlobalFlags, use, short string, call func(context.Context, *client.Client) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(gf)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := requireDaemon(ctx, c); err != nil {
				return err
			}
			if err := call(ctx, c); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func newStartCmd(gf *GlobalFlags) *cobra.Command {
	return lifecycleCmd(gf, "start", "Start the dashboard", func(ctx context.Context, c *client.Client) error {
		return c.Start(ctx)
	})
}

func newStopCmd(gf *GlobalFlags) *cobra.Command {
	return lifecycleCmd(gf, "stop", "Stop the dashboard", func(ctx context.Context, c *client.Client) error {
		return c.Stop(ctx)
	})
}

func newRestartCmd(gf *GlobalFlags) *cobra.Command {
	return lifecycleCmd(gf, "restart", "Restart the dashboard", func(ctx context.Context, c *client.Client) error {
		return c.Restart(ctx)
	})
}

func newUpdateCmd(gf *GlobalFlags) *cobra.Command {
	var (
		checkOnly bool
		yes       bool
		version   string
	)
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for and install ESPHome updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(gf)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := requireDaemon(ctx, c); err != nil {
				return err
			}

			target := version
			if target == "" {
				res, err := c.CheckUpdate(ctx)
				if err != nil {
					return err
				}
				if !res.Available {
					fmt.Printf("up to date (installed: %s)\n", res.Installed)
					return nil
				}
				fmt.Printf("update available: %s -> %s\n", res.Installed, res.Latest)
				if checkOnly {
					return nil
				}
				if !yes {
					console := ui.Console{In: os.Stdin, Out: os.Stdout}
					if !console.Confirm("Update Available",
						fmt.Sprintf("Install ESPHome %s? The dashboard will restart.", res.Latest), "Update Now") {
						fmt.Println("aborted")
						return nil
					}
				}
				target = res.Latest
			}

			fmt.Printf("installing %s...\n", target)
			res, err := c.ApplyUpdate(ctx, target)
			if err != nil {
				return err
			}
			fmt.Printf("done: %s (%s)\n", res.Version, res.Outcome)
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkOnly, "check-only", false, "only check, do not install")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "install without asking")
	cmd.Flags().StringVar(&version, "version", "", "install a specific version instead of the latest")
	return cmd
}

func newCheckUpdateCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check-update",
		Short: "Check whether a newer ESPHome release exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(gf)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := requireDaemon(ctx, c); err != nil {
				return err
			}
			res, err := c.CheckUpdate(ctx)
			if err != nil {
				return err
			}
			if res.Available {
				fmt.Printf("update available: %s -> %s\n", res.Installed, res.Latest)
			} else {
				fmt.Printf("up to date (installed: %s)\n", res.Installed)
			}
			return nil
		},
	}
}

func newOpenCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "open",
		Short: "Open the dashboard in a browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(gf.ConfigPath)
			if err != nil {
				return err
			}
			url := fmt.Sprintf("http://127.0.0.1:%d", cfg.Port)
			if err := openBrowser(url); err != nil {
				return err
			}
			fmt.Println("opened", url)
			return nil
		},
	}
}

func newVersionCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the installed ESPHome version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(gf.ConfigPath)
			if err != nil {
				return err
			}
			v, err := cfg.PythonEnv().InstalledVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		},
	}
}

func newHistoryCmd(gf *GlobalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent daemon events and update attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(gf)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := requireDaemon(ctx, c); err != nil {
				return err
			}

			events, err := c.RecentEvents(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Println("events:")
			for _, e := range events {
				line := fmt.Sprintf("  %s  %-5s pid=%d", e.OccurredAt.Local().Format(time.DateTime), e.Kind, e.PID)
				if e.Detail != "" {
					line += "  " + e.Detail
				}
				fmt.Println(line)
			}

			updates, err := c.RecentUpdates(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Println("updates:")
			for _, u := range updates {
				line := fmt.Sprintf("  %s  %s -> %s  %s", u.OccurredAt.Local().Format(time.DateTime), u.FromVersion, u.ToVersion, u.Outcome)
				if u.Error != "" {
					line += "  " + u.Error
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}

func newConfigCmd(gf *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the esphomed configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a config file with defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := gf.ConfigPath
			if path == "" {
				path = config.DefaultPath()
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}
			if err := config.Save(config.Default(), path); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(gf.ConfigPath)
			if err != nil {
				return err
			}
			fmt.Printf("port:            %d\n", cfg.Port)
			fmt.Printf("config_dir:      %s\n", cfg.ConfigDir)
			fmt.Printf("data_dir:        %s\n", cfg.DataDir)
			if cfg.PythonPath != "" {
				fmt.Printf("python_path:     %s\n", cfg.PythonPath)
			}
			fmt.Printf("open_on_start:   %v\n", cfg.OpenOnStart)
			fmt.Printf("check_updates:   %v\n", cfg.CheckUpdates)
			fmt.Printf("update_interval: %s\n", cfg.UpdateInterval)
			fmt.Printf("server.listen:   %s\n", cfg.Server.Listen)
			fmt.Printf("store.type:      %s\n", cfg.Store.Type)
			return nil
		},
	})
	return cmd
}
