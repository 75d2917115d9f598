package cli

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/shivanshkc/byteevents/internal/config"
	"github.com/shivanshkc/byteevents/pkg/session"
)

var serveAddr string

// serveCmd runs the byte event server until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the byte event server.",
	Long: `Run the byte event server. Every finished transaction and every ping
latency is logged. Use --log-level=debug to see the individual events.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr = serveAddr
		}
		if message := validateServeFlags(); message != "" {
			return fmt.Errorf("%s", message)
		}

		ln, err := net.Listen("tcp", cfg.Server.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr, err)
		}

		observer := &logObserver{logger: slog.Default().With("component", "observer")}
		server := session.NewServer(slog.Default(), sessionOptions(cfg.Session, session.WithObserver(observer))...)
		return server.Serve(cmd.Context(), ln)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a",
		"127.0.0.1:8080", "Address to listen on.")
}

// sessionOptions converts the session configuration into session options.
func sessionOptions(c config.SessionConfig, extra ...session.Option) []session.Option {
	opts := []session.Option{
		session.WithTimestamps(c.TxTimestamps, c.AckTimestamps),
		session.WithTimestampTimeout(c.TimestampTimeout),
	}
	if c.SoftwareTimestamps {
		opts = append(opts, session.WithSoftwareTimestamps())
	}
	return append(opts, extra...)
}

// logObserver logs everything a session measures.
type logObserver struct {
	logger *slog.Logger
}

func (o *logObserver) OnTransaction(r session.Report) {
	o.logger.Info("transaction finished",
		"id", r.TransactionID,
		"path", r.Path,
		"status", r.Status,
		"complete", r.Complete,
		"body_bytes", r.BodyBytes,
		"tracked_bytes", r.TrackedBytes,
		"first_byte", FormatDuration(r.FirstByte),
		"last_byte", FormatDuration(r.LastByte),
		"last_byte_tx", FormatDuration(r.LastByteTx),
		"last_byte_ack", FormatDuration(r.LastByteAck),
		"expired_timestamps", r.ExpiredTimestamps,
	)
}

func (o *logObserver) OnPingLatency(latency time.Duration) {
	o.logger.Info("ping reply sent", "latency", FormatDuration(latency))
}
