package optimizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"tiler/internal/artifacts"
	"tiler/internal/logging"
	"tiler/internal/metrics"
	"tiler/internal/pyramid"
)

// batchSize bounds the files passed to one optimizer invocation.
const batchSize = 64

// ErrUnsupported is returned for extensions without an optimizer.
var ErrUnsupported = errors.New("no optimizer for extension")

// Runner runs external commands.
type Runner interface {
	LookPath(name string) (string, error)
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s error: %w - %s", name, err, stderr.String())
	}
	return nil
}

// Report summarizes one optimizer run.
type Report struct {
	Files       int           `json:"files"`
	Skipped     bool          `json:"skipped"`
	BytesBefore int64         `json:"bytes_before"`
	BytesAfter  int64         `json:"bytes_after"`
	Duration    time.Duration `json:"duration"`
}

// Saved returns BytesBefore - BytesAfter.
func (r Report) Saved() int64 {
	return r.BytesBefore - r.BytesAfter
}

// Add merges o into r.
func (r *Report) Add(o Report) {
	r.Files += o.Files
	r.Skipped = r.Skipped || o.Skipped
	r.BytesBefore += o.BytesBefore
	r.BytesAfter += o.BytesAfter
	r.Duration += o.Duration
}

// Optimizer recompresses artifacts in place. The store must be backed by
// the filesystem the external tools see.
type Optimizer struct {
	layout artifacts.Layout
	store  artifacts.Store
	runner Runner
}

// New returns an Optimizer. runner defaults to ExecRunner.
func New(layout artifacts.Layout, store artifacts.Store, runner Runner) *Optimizer {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Optimizer{layout: layout, store: store, runner: runner}
}

func command(ext string) (string, []string, error) {
	switch ext {
	case artifacts.ExtJPG:
		return "jpegoptim", []string{"--strip-all"}, nil
	case artifacts.ExtPNG:
		return "optipng", nil, nil
	default:
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
}

func (o *Optimizer) totalSize(ctx context.Context, files []string) int64 {
	var total int64
	for _, f := range files {
		size, err := o.store.Size(ctx, f)
		if err != nil {
			logging.Debug("optimizer: stat %s: %v", f, err)
			continue
		}
		total += size
	}
	return total
}

// Optimize recompresses files, all of which have extension ext.
func (o *Optimizer) Optimize(ctx context.Context, files []string, ext string) (Report, error) {
	name, baseArgs, err := command(ext)
	if err != nil {
		return Report{}, err
	}

	report := Report{Files: len(files)}
	if len(files) == 0 {
		return report, nil
	}

	if _, err := o.runner.LookPath(name); err != nil {
		logging.Warn("optimizer %s not installed, skipping %d files", name, len(files))
		metrics.OptimizerFilesTotal.WithLabelValues(ext, "skipped").Add(float64(len(files)))
		report.Skipped = true
		return report, nil
	}

	start := time.Now()
	report.BytesBefore = o.totalSize(ctx, files)

	for i := 0; i < len(files); i += batchSize {
		batch := files[i:min(i+batchSize, len(files))]
		args := append(append([]string(nil), baseArgs...), batch...)
		if err := o.runner.Run(ctx, name, args...); err != nil {
			metrics.OptimizerFilesTotal.WithLabelValues(ext, "error").Add(float64(len(batch)))
			return report, err
		}
		metrics.OptimizerFilesTotal.WithLabelValues(ext, "optimized").Add(float64(len(batch)))
	}

	report.BytesAfter = o.totalSize(ctx, files)
	report.Duration = time.Since(start)
	if saved := report.Saved(); saved > 0 {
		metrics.OptimizerBytesSaved.Add(float64(saved))
	}

	logging.Info("Took %v to optimize %d files, from %.1fKb to %.1fKb, saving %.1fKb",
		report.Duration, report.Files, kb(report.BytesBefore), kb(report.BytesAfter), kb(report.Saved()))
	return report, nil
}

func kb(n int64) float64 {
	return float64(n) / 1000
}

// OptimizeZoom recompresses every tile of fileid at zoom.
func (o *Optimizer) OptimizeZoom(ctx context.Context, fileid string, zoom int, ext string) (Report, error) {
	dir, err := o.layout.TileDir(fileid, pyramid.TileSize, zoom)
	if err != nil {
		return Report{}, err
	}
	files, err := o.store.Glob(ctx, filepath.Join(dir, "*."+ext))
	if err != nil {
		return Report{}, err
	}
	return o.Optimize(ctx, files, ext)
}

// OptimizeThumbnails recompresses every thumbnail of fileid.
func (o *Optimizer) OptimizeThumbnails(ctx context.Context, fileid, ext string) (Report, error) {
	dir, err := o.layout.ThumbnailDir(fileid)
	if err != nil {
		return Report{}, err
	}
	files, err := o.store.Glob(ctx, filepath.Join(dir, "*."+ext))
	if err != nil {
		return Report{}, err
	}
	return o.Optimize(ctx, files, ext)
}
