package memory

import (
	"fmt"
	"math"
	"os"
	"runtime/debug"
	"strconv"

	"tiler/internal/logging"
)

// DefaultMemoryRatio is the share of the container limit given to the Go
// heap. The rest is left to libvips, whose buffers live outside the Go
// heap, and to goroutine stacks.
const DefaultMemoryRatio = 0.75

// ConfigResult describes how GOMEMLIMIT was configured.
type ConfigResult struct {
	Configured bool
	// Source is "GOMEMLIMIT", "MEMORY_LIMIT" or "none".
	Source         string
	ContainerLimit int64
	GoMemLimit     int64
	Ratio          float64
}

func (r ConfigResult) String() string {
	switch r.Source {
	case "GOMEMLIMIT":
		return "GOMEMLIMIT " + FormatBytes(r.GoMemLimit) + " (environment)"
	case "MEMORY_LIMIT":
		return fmt.Sprintf("GOMEMLIMIT %s (%.0f%% of %s container limit)",
			FormatBytes(r.GoMemLimit), r.Ratio*100, FormatBytes(r.ContainerLimit))
	default:
		return "no memory limit"
	}
}

// ConfigureFromEnv sets GOMEMLIMIT from the container limit. Call it early
// in main, before the raster cache and the worker pool allocate.
//
//   - GOMEMLIMIT set: left alone and reported.
//   - MEMORY_LIMIT (bytes, e.g. from the Kubernetes Downward API): the Go
//     limit becomes MEMORY_LIMIT * MEMORY_RATIO.
//   - MEMORY_RATIO: 0 < ratio <= 1, default DefaultMemoryRatio.
func ConfigureFromEnv() ConfigResult {
	if env := os.Getenv("GOMEMLIMIT"); env != "" {
		result := ConfigResult{Source: "GOMEMLIMIT"}
		if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
			result.Configured = true
			result.GoMemLimit = limit
		}
		logging.Info("GOMEMLIMIT set via environment: %s", env)
		return result
	}

	raw := os.Getenv("MEMORY_LIMIT")
	if raw == "" {
		logging.Debug("MEMORY_LIMIT not set, GOMEMLIMIT not configured")
		return ConfigResult{Source: "none"}
	}
	containerLimit, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || containerLimit <= 0 {
		logging.Warn("Ignoring invalid MEMORY_LIMIT %q", raw)
		return ConfigResult{Source: "none"}
	}

	ratio := parseRatio(os.Getenv("MEMORY_RATIO"))
	goLimit := int64(float64(containerLimit) * ratio)
	debug.SetMemoryLimit(goLimit)

	result := ConfigResult{
		Configured:     true,
		Source:         "MEMORY_LIMIT",
		ContainerLimit: containerLimit,
		GoMemLimit:     goLimit,
		Ratio:          ratio,
	}
	logging.Info("Configured %s", result)
	return result
}

func parseRatio(raw string) float64 {
	if raw == "" {
		return DefaultMemoryRatio
	}
	ratio, err := strconv.ParseFloat(raw, 64)
	if err != nil || ratio <= 0 || ratio > 1 {
		logging.Warn("Ignoring MEMORY_RATIO %q, using %.2f", raw, DefaultMemoryRatio)
		return DefaultMemoryRatio
	}
	return ratio
}

// FormatBytes renders b with binary units.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return strconv.FormatInt(b, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return strconv.FormatFloat(float64(b)/float64(div), 'f', 1, 64) + " " + string("KMGTPE"[exp]) + "iB"
}
