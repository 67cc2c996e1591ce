package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/perchworks/gangway/internal/archive"
	"github.com/perchworks/gangway/internal/bridge"
	"github.com/perchworks/gangway/internal/client"
	"github.com/perchworks/gangway/internal/config"
	"github.com/perchworks/gangway/internal/logger"
	"github.com/perchworks/gangway/internal/transport"
)

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "gangway.yaml"
	}
	return home + "/.gangway/config.yaml"
}

func runCmd() *cobra.Command {
	var (
		cfgPath string
		urlFlag string
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the bridge and stream session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if urlFlag != "" {
				cfg.Bridge.URL = urlFlag
			}
			if cfg.Bridge.ClientID == "" {
				cfg.Bridge.ClientID = uuid.NewString()
			}
			if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
				return err
			}

			var arch *archive.Store
			if cfg.Archive.Path != "" {
				arch, err = archive.Open(cfg.Archive.Path)
				if err != nil {
					return fmt.Errorf("open archive: %w", err)
				}
				defer arch.Close()
			}

			ws := transport.NewWS(cfg.Bridge.Token)
			app := client.New(cfg, ws, arch)
			defer app.Close()

			app.Bridge.OnStateChange = func(state bridge.ConnState, err error) {
				if err != nil {
					slog.Info("bridge state", "state", state, "err", err)
					return
				}
				slog.Info("bridge state", "state", state)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !cfg.Bridge.AutoConnect {
				fmt.Fprintln(os.Stderr, "bridge.auto_connect is false; enable it or pass a URL to connect at startup")
				return nil
			}
			app.Connect(ctx)

			if watch {
				go func() {
					err := config.Watch(ctx, cfgPath, func(next *config.Config) {
						// Token rotation applies on the next reconnect; a URL
						// change needs a restart since the dial target is
						// fixed for the life of the connection loop.
						ws.Token = next.Bridge.Token
						if next.Bridge.URL != cfg.Bridge.URL {
							slog.Warn("bridge.url changed on disk; restart to apply")
						}
						slog.Info("config reloaded")
					})
					if err != nil && ctx.Err() == nil {
						slog.Warn("config watch stopped", "err", err)
					}
				}()
			}

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", defaultConfigPath(), "Path to config file")
	cmd.Flags().StringVar(&urlFlag, "url", "", "Bridge URL (overrides config)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload config on change (token rotation)")
	return cmd
}

func statusCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			fmt.Printf("bridge url:    %s\n", cfg.Bridge.URL)
			fmt.Printf("auto connect:  %v\n", cfg.Bridge.AutoConnect)
			fmt.Printf("terminal caps: %d lines / %d bytes\n", cfg.Terminal.MaxLines, cfg.Terminal.MaxBytes)
			if cfg.Archive.Path != "" {
				fmt.Printf("archive:       %s\n", cfg.Archive.Path)
			} else {
				fmt.Printf("archive:       disabled\n")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", defaultConfigPath(), "Path to config file")
	return cmd
}
