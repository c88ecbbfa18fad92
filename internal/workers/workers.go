package workers

import (
	"os"
	"runtime"
	"strconv"
)

// EnvOverride names the environment variable that fixes the worker count.
const EnvOverride = "TILER_WORKERS"

// Count returns multiplier workers per available CPU, at least 1 and at
// most limit (0 for no limit). GOMAXPROCS is used rather than NumCPU so
// container CPU limits are respected.
//
// A positive TILER_WORKERS value replaces the computed count; limit still
// applies.
func Count(multiplier float64, limit int) int {
	workers := int(float64(runtime.GOMAXPROCS(0)) * multiplier)
	if override, ok := fromEnv(); ok {
		workers = override
	}

	if workers < 1 {
		workers = 1
	}
	if limit > 0 && workers > limit {
		workers = limit
	}
	return workers
}

func fromEnv() (int, bool) {
	v := os.Getenv(EnvOverride)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// ForCPU sizes pools doing image decoding, resizing and cropping.
func ForCPU(limit int) int {
	return Count(1.0, limit)
}

// ForIO sizes pools that mostly wait on the filesystem or the network,
// such as tilerctl fan-out over many images.
func ForIO(limit int) int {
	return Count(2.0, limit)
}
