package cli

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/shivanshkc/byteevents/pkg/api"
)

var (
	probeTarget   string
	probeEvents   int
	probeSize     int
	probeInterval time.Duration
)

// probeCmd requests a single stream and prints every event as it arrives.
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Request one stream and print its events as they arrive.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("target") {
			probeTarget = "http://" + cfg.Server.Addr
		}
		if message := validateProbeFlags(); message != "" {
			return fmt.Errorf("%s", message)
		}

		ctx := cmd.Context()
		client := api.NewClient(probeTarget)

		rtt, err := client.Ping(ctx)
		if err != nil {
			return fmt.Errorf("ping failed: %w", err)
		}
		fmt.Println(text.FgCyan.Sprint("ping"), FormatDuration(rtt))

		start := time.Now()
		events, err := client.Stream(ctx, api.StreamRequest{Events: probeEvents, Size: probeSize, Interval: probeInterval})
		if err != nil {
			return fmt.Errorf("stream failed: %w", err)
		}

		var last time.Time
		for event := range events {
			if event.Error != nil {
				return fmt.Errorf("stream failed: %w", event.Error)
			}

			gap := "-"
			if !last.IsZero() {
				gap = FormatDuration(event.Timestamp.Sub(last))
			}
			last = event.Timestamp

			fmt.Printf("%s %-6s offset=%-10d data=%-8s at=%-10s gap=%s\n",
				text.FgGreen.Sprint("event"),
				event.ID,
				event.Offset,
				formatBytes(uint64(len(event.Data))),
				FormatDuration(event.Timestamp.Sub(start)),
				gap,
			)
		}

		fmt.Println(text.Bold.Sprint("done"), FormatDuration(time.Since(start)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().StringVarP(&probeTarget, "target", "t",
		"", "Base URL of the server. Defaults to the configured server address.")
	probeCmd.Flags().IntVar(&probeEvents, "events", 10, "Events in the stream.")
	probeCmd.Flags().IntVar(&probeSize, "size", 64, "Data bytes per event.")
	probeCmd.Flags().DurationVar(&probeInterval, "interval", 100*time.Millisecond, "Pause between two events.")
}
