package cli

import (
	"net"
	"net/url"

	"github.com/shivanshkc/byteevents/internal/config"
)

// validateRootFlags validates the configuration after the root command's flags are applied.
func validateRootFlags(c *config.Config) string {
	if err := c.Validate(); err != nil {
		return "Invalid configuration: " + err.Error()
	}
	return ""
}

// validateServeFlags validates the flags of the serve command.
func validateServeFlags() string {
	if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		return "Invalid address: " + err.Error()
	}
	return ""
}

// validateBenchFlags validates the flags of the bench command.
func validateBenchFlags() string {
	// Overrides are checked with the same rules as the file.
	if message := validateRootFlags(cfg); message != "" {
		return message
	}

	// An empty target starts an in-process server.
	if benchTarget == "" {
		return ""
	}
	return validateTarget(benchTarget)
}

// validateProbeFlags validates the flags of the probe command.
func validateProbeFlags() string {
	if probeEvents <= 0 {
		return "Event count must be greater than 0."
	}
	if probeSize <= 0 {
		return "Event size must be greater than 0."
	}
	return validateTarget(probeTarget)
}

func validateTarget(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "Invalid target: " + err.Error()
	}
	if u.Scheme != "http" || u.Host == "" {
		return "Target must be an http URL with a host."
	}
	return ""
}
