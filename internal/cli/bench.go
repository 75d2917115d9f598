package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/shivanshkc/byteevents/pkg/api"
	"github.com/shivanshkc/byteevents/pkg/bench"
	"github.com/shivanshkc/byteevents/pkg/byteevents"
	"github.com/shivanshkc/byteevents/pkg/httpx"
	"github.com/shivanshkc/byteevents/pkg/session"
	"github.com/shivanshkc/byteevents/pkg/tracker"
)

var benchTarget string

// benchCmd represents the bench command
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark the byte event server.",
	Long: `Benchmark the byte event server.

Without --target an in-process server is started on a random local port, and
its byte event measurements are reported next to the client-side timings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		applyBenchFlags(cmd)
		if message := validateBenchFlags(); message != "" {
			return fmt.Errorf("%s", message)
		}
		return runBench(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().StringVarP(&benchTarget, "target", "t",
		"", "Base URL of a running server. Empty starts one in-process.")
	benchCmd.Flags().IntP("requests", "n", 100, "Total number of stream requests.")
	benchCmd.Flags().IntP("concurrency", "k", 10, "Number of requests in flight at once.")
	benchCmd.Flags().Float64("rate", 0, "Maximum requests started per second. 0 means no limit.")
	benchCmd.Flags().Int("events", 20, "Events per stream.")
	benchCmd.Flags().Int("size", 256, "Data bytes per event.")
	benchCmd.Flags().Duration("interval", 0, "Pause between two events of a stream.")
	benchCmd.Flags().Int("pings", 100, "Number of pings.")
}

// applyBenchFlags copies explicitly set flags over the configuration.
func applyBenchFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("requests") {
		cfg.Bench.Requests, _ = flags.GetInt("requests")
	}
	if flags.Changed("concurrency") {
		cfg.Bench.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("rate") {
		cfg.Bench.Rate, _ = flags.GetFloat64("rate")
	}
	if flags.Changed("events") {
		cfg.Bench.Events, _ = flags.GetInt("events")
	}
	if flags.Changed("size") {
		cfg.Bench.Size, _ = flags.GetInt("size")
	}
	if flags.Changed("interval") {
		cfg.Bench.Interval, _ = flags.GetDuration("interval")
	}
	if flags.Changed("pings") {
		cfg.Bench.Pings, _ = flags.GetInt("pings")
	}
}

func runBench(ctx context.Context) error {
	logger := slog.Default().With("component", "bench")

	// Every tracker records into this provider.
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", "byteevents"))),
	)
	defer func() { _ = provider.Shutdown(context.Background()) }()
	otel.SetMeterProvider(provider)

	collector := bench.NewCollector()
	baseURL := benchTarget

	if baseURL == "" {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to start in-process server: %w", err)
		}

		serverCtx, stopServer := context.WithCancel(ctx)
		var wg sync.WaitGroup

		server := session.NewServer(logger, sessionOptions(cfg.Session, session.WithObserver(collector))...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Serve(serverCtx, ln); err != nil {
				logger.Error("in-process server failed", "error", err)
			}
		}()

		baseURL = "http://" + ln.Addr().String()
		// Connections are drained before the results are read.
		defer func() {
			stopServer()
			wg.Wait()
			printServerResults(collector.Results())
			printFiredEvents(reader)
		}()
	}

	client := api.NewClient(baseURL)
	req := api.StreamRequest{Events: cfg.Bench.Events, Size: cfg.Bench.Size, Interval: cfg.Bench.Interval}
	progress := func(done, total int) {
		if done == total || done%max(total/10, 1) == 0 {
			fmt.Printf("[%d/%d] requests complete.\n", done, total)
		}
	}

	streamResults, err := bench.BenchmarkStream(ctx, bench.Options{
		Requests:    cfg.Bench.Requests,
		Concurrency: cfg.Bench.Concurrency,
		Rate:        cfg.Bench.Rate,
		OnProgress:  progress,
	}, func(ctx context.Context) (<-chan httpx.Event, error) {
		return client.Stream(ctx, req)
	})
	if err != nil {
		return fmt.Errorf("stream benchmark failed: %w", err)
	}

	pingResults, err := bench.BenchmarkPing(ctx, bench.Options{
		Requests:    cfg.Bench.Pings,
		Concurrency: cfg.Bench.Concurrency,
		Rate:        cfg.Bench.Rate,
	}, client.Ping)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("ping benchmark failed: %w", err)
	}

	printClientResults(streamResults, pingResults)
	return nil
}

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(title)
	return t
}

var summaryHeader = table.Row{"Metric", "Count", "Avg", "Min", "Med", "Max", "P90", "P95", "P99"}

func summaryRow(name string, ds bench.Durations) table.Row {
	s := ds.Summarize()
	if s.Count == 0 {
		na := FormatDuration(byteevents.NoLatency)
		return table.Row{name, 0, na, na, na, na, na, na, na}
	}
	return table.Row{
		name, s.Count,
		FormatDuration(s.Avg), FormatDuration(s.Min), FormatDuration(s.Med), FormatDuration(s.Max),
		FormatDuration(s.P90), FormatDuration(s.P95), FormatDuration(s.P99),
	}
}

func printClientResults(streams bench.StreamBenchmarkResults, pings bench.Durations) {
	t := newTable("Client")
	t.AppendHeader(summaryHeader)
	t.AppendRows([]table.Row{
		summaryRow("Time to first event", streams.TTFE),
		summaryRow("Time between events", streams.TBE),
		summaryRow("Total time", streams.TT),
		summaryRow("Ping round trip", pings),
	})
	t.AppendFooter(table.Row{"Received", streams.Events, formatBytes(streams.Bytes)})
	t.Render()
}

func printServerResults(res bench.ServerResults) {
	t := newTable("Server (since transaction start)")
	t.AppendHeader(summaryHeader)
	t.AppendRows([]table.Row{
		summaryRow("First header byte", res.FirstHeaderByte),
		summaryRow("First byte", res.FirstByte),
		summaryRow("First byte TX", res.FirstByteTx),
		summaryRow("Last byte", res.LastByte),
		summaryRow("Last byte TX", res.LastByteTx),
		summaryRow("Last byte ACK", res.LastByteAck),
		summaryRow("Ping reply latency", res.PingLatency),
	})
	t.AppendFooter(table.Row{"Transactions", res.Transactions, "Incomplete", res.Incomplete, "Expired", res.ExpiredTimestamps})
	t.Render()

	if res.ExpiredTimestamps > 0 {
		fmt.Println(text.FgYellow.Sprintf("%d timestamp waits expired before their timestamp arrived.", res.ExpiredTimestamps))
	}
}

// printFiredEvents renders the fired byte event counter per kind.
func printFiredEvents(reader sdkmetric.Reader) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		slog.Warn("failed to collect metrics", "error", err)
		return
	}

	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || m.Name != tracker.MetricFired {
				continue
			}
			for _, dp := range sum.DataPoints {
				kind, _ := dp.Attributes.Value("kind")
				counts[kind.AsString()] += dp.Value
			}
		}
	}
	if len(counts) == 0 {
		return
	}

	kinds := make([]string, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)

	t := newTable("Fired byte events")
	t.AppendHeader(table.Row{"Kind", "Count"})
	for _, kind := range kinds {
		t.AppendRow(table.Row{strings.ReplaceAll(kind, "_", " "), counts[kind]})
	}
	t.Render()
}
