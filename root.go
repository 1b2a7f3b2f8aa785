package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"torrentbridge/internal/bus"
	"torrentbridge/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagVerbose    bool
	flagQuiet      bool
)

// defaultConfigPath is used when --config is not given.
const defaultConfigPath = "torrentbridge.toml"

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "torrentbridge",
		Short:   "qBittorrent download bridge",
		Long:    "Accepts add-torrent commands over AMQP, submits them to qBittorrent, and publishes download lifecycle events.",
		Version: version,
		// Silence Cobra's default error/usage printing, we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", defaultConfigPath, "config file path")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// newRunCmd returns the command that starts the daemon: the AMQP consumer
// for inbound commands and the polling engine for tracked torrents.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flagConfigPath)
			if err != nil {
				return err
			}

			logger := buildLogger(cfg.LogLevel)
			ctx := shutdownContext(cmd.Context(), logger)

			return runDaemon(ctx, cfg, logger)
		},
	}
}

// newAddCmd returns a convenience command that enqueues one add-torrent
// command on the broker, the same way an upstream producer would.
func newAddCmd() *cobra.Command {
	var (
		flagID       string
		flagMagnet   string
		flagCategory string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Enqueue an add-torrent command",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flagConfigPath)
			if err != nil {
				return err
			}

			logger := buildLogger(cfg.LogLevel)

			command := bus.Command{
				RequestID: flagID,
				MagnetURI: flagMagnet,
				Category:  flagCategory,
			}
			if err := command.Validate(cfg.Categories); err != nil {
				return err
			}

			conn, err := bus.Dial(cmd.Context(), cfg.AMQP.URL, logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := bus.SendCommand(cmd.Context(), conn, cfg.AMQP.CommandQueue, command); err != nil {
				return err
			}

			logger.Info("command enqueued", slog.String("id", flagID))

			return nil
		},
	}

	cmd.Flags().StringVar(&flagID, "id", "", "request identifier")
	cmd.Flags().StringVar(&flagMagnet, "magnet", "", "magnet URI")
	cmd.Flags().StringVar(&flagCategory, "category", "", "download category")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("magnet")
	_ = cmd.MarkFlagRequired("category")

	return cmd
}

// newConfigCmd returns config management subcommands.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := config.DefaultConfig().Write(flagConfigPath); err != nil {
				return err
			}

			fmt.Printf("Wrote %s\n", flagConfigPath)

			return nil
		},
	})

	return cmd
}

// buildLogger creates an slog.Logger from the configured level. --verbose
// and --quiet override the config because CLI flags always win. Interactive
// terminals get the text handler; everything else gets JSON for log shippers.
func buildLogger(configLevel string) *slog.Logger {
	level := slog.LevelInfo

	switch configLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
