package cli

import (
	"fmt"
	"time"

	"github.com/shivanshkc/byteevents/pkg/byteevents"
)

// FormatDuration renders d with a unit that fits its magnitude.
// byteevents.NoLatency renders as "n/a".
func FormatDuration(d time.Duration) string {
	switch {
	case d == byteevents.NoLatency:
		return "n/a"
	case d < 0:
		return "-" + FormatDuration(-d)
	case d == 0:
		return "0s"
	}

	// Format based on magnitude.
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%.0fns", float64(d.Nanoseconds()))
	case d < time.Millisecond:
		return fmt.Sprintf("%.2fμs", float64(d.Nanoseconds())/1000)
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1000000)
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

// formatBytes renders n with a binary unit.
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}

	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
