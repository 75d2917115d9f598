// Package cli contains all the command-line interface logic for the application,
// powered by the cobra library. It defines the root command, subcommands,
// and their respective flags.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shivanshkc/byteevents/internal/config"
)

var (
	// rootConfigPath and rootLogLevel hold the values from the root command's persistent flags.
	rootConfigPath string
	rootLogLevel   string

	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
// It serves as the entry point and parent for all other commands.
var rootCmd = &cobra.Command{
	Use:   "byteevents",
	Short: "Serve and benchmark HTTP/1.1 responses instrumented with byte events.",
	Long: `Serve and benchmark HTTP/1.1 responses instrumented with byte events.
The server reports when the first and last bytes of every response, the bytes
of every streamed event and every ping reply are written, and optionally
waits for their transmit and acknowledgment timestamps.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(rootConfigPath)
		if err != nil {
			return err
		}
		// Flags win over the file.
		if cmd.Flags().Changed("log-level") {
			loaded.Log.Level = rootLogLevel
		}
		if message := validateRootFlags(loaded); message != "" {
			return fmt.Errorf("%s", message)
		}

		cfg = loaded
		slog.SetDefault(newLogger(cfg.Log))
		return nil
	},
}

// Execute is the primary entry point for the CLI application, called by main.go.
//
// It sets up a single, root cancellable context and wires it up to respond
// to OS interruption signals (like Ctrl+C or SIGTERM). This context is then passed down
// to all cobra commands, enabling graceful shutdown across the entire application.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootConfigPath, "config", "c",
		"", "Path of a YAML configuration file.")

	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level",
		"info", "Log level: debug, info, warn or error.")
}

// newLogger builds the process logger. It writes to stderr so that command
// output on stdout stays clean.
func newLogger(c config.LogConfig) *slog.Logger {
	// Validated before.
	level, _ := config.ParseLevel(c.Level)
	opts := &slog.HandlerOptions{Level: level}

	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
