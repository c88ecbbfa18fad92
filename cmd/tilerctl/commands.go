package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"tiler/internal/database"
	"tiler/internal/logging"
	"tiler/internal/optimizer"
	"tiler/internal/pipeline"
	"tiler/internal/raster"
	"tiler/internal/tiles"
	"tiler/internal/workers"
)

// imageService is the part of pipeline.Service the commands drive.
type imageService interface {
	Ingest(ctx context.Context, r io.Reader, contentType, fileid string) (*database.Image, error)
	Ranges(ctx context.Context, fileid string) ([]int, error)
	Prepare(ctx context.Context, fileid string) (pipeline.Outcome, error)
	Count(ctx context.Context, fileid string) (tiles.Counts, bool, error)
	Delete(ctx context.Context, fileid string) error
	RecalculateSize(ctx context.Context, fileid string) (raster.Dimensions, error)
	Lock(ctx context.Context, fileid string) error
	Unlock(ctx context.Context, fileid string) error
	LockMore(ctx context.Context, fileid string) (time.Duration, error)
	Optimize(ctx context.Context, fileid string) (optimizer.Report, error)
}

type opener func(ctx context.Context) (imageService, func() error, error)

// cli carries the state shared by every command.
type cli struct {
	open    opener
	verbose bool
	yes     bool
	out     io.Writer
	in      io.Reader
	// isTerminal reports whether in is interactive.
	isTerminal func() bool

	mu sync.Mutex
}

func newCLI(open opener) *cli {
	return &cli{
		open: open,
		out:  os.Stdout,
		in:   os.Stdin,
		isTerminal: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd()))
		},
	}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tilerctl",
		Short:         "Administer tile pyramids",
		SilenceUsage:  true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if c.verbose {
				logging.SetLevel(logging.LevelDebug)
			} else {
				logging.SetLevel(logging.LevelWarn)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Log startup and job progress")

	root.AddCommand(
		c.ingestCmd(),
		c.eachCmd("prepare", "Generate every tile and thumbnail of the images", c.prepare),
		c.eachCmd("ranges", "Print the zoom range of the images", c.ranges),
		c.eachCmd("count", "Print found and expected tile counts", c.count),
		c.deleteCmd(),
		c.eachCmd("recalc-size", "Re-read the size of the originals", c.recalcSize),
		c.eachCmd("lock", "Set the upload lock for one hour", c.lock),
		c.unlockCmd(),
		c.eachCmd("optimize", "Recompress tiles and thumbnails", c.optimize),
	)
	return root
}

// eachCmd builds a command applying fn to every fileid argument.
func (c *cli) eachCmd(use, short string, fn func(ctx context.Context, svc imageService, fileid string) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " FILEID...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.forEach(cmd.Context(), args, fn)
		},
	}
}

// forEach opens the service once and fans out over fileids. Every result is
// printed as one JSON line; the first error is returned after all finish.
func (c *cli) forEach(ctx context.Context, fileids []string, fn func(ctx context.Context, svc imageService, fileid string) (any, error)) error {
	svc, closeFn, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeFn(); err != nil {
			logging.Warn("close: %v", err)
		}
	}()

	var g errgroup.Group
	g.SetLimit(workers.ForIO(8))
	var failed []error
	for _, fileid := range fileids {
		fileid := fileid
		g.Go(func() error {
			result, err := fn(ctx, svc, fileid)
			if err != nil {
				c.mu.Lock()
				failed = append(failed, fmt.Errorf("%s: %w", fileid, err))
				c.mu.Unlock()
				c.print(map[string]any{"fileid": fileid, "error": err.Error()})
				return nil
			}
			c.print(result)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(failed...)
}

func (c *cli) print(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := json.NewEncoder(c.out).Encode(v); err != nil {
		logging.Error("write output: %v", err)
	}
}

func (c *cli) ingestCmd() *cobra.Command {
	var (
		fileid  string
		prepare bool
	)
	cmd := &cobra.Command{
		Use:   "ingest FILE",
		Short: "Store an original and record its size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			br := bufio.NewReader(f)
			head, err := br.Peek(512)
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			contentType := http.DetectContentType(head)

			return c.forEach(cmd.Context(), []string{fileid}, func(ctx context.Context, svc imageService, id string) (any, error) {
				img, err := svc.Ingest(ctx, br, contentType, id)
				if err != nil || !prepare {
					return img, err
				}
				outcome, err := svc.Prepare(ctx, img.FileID)
				if err != nil {
					return nil, err
				}
				return map[string]any{"image": img, "outcome": outcome}, nil
			})
		},
	}
	cmd.Flags().StringVar(&fileid, "fileid", "", "Use this fileid instead of a generated one")
	cmd.Flags().BoolVar(&prepare, "prepare", true, "Prepare the pyramid after storing the original")
	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete FILEID...",
		Short: "Remove images with every derived artifact",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.confirm(fmt.Sprintf("Delete %d image(s) and all their tiles?", len(args))); err != nil {
				return err
			}
			return c.forEach(cmd.Context(), args, func(ctx context.Context, svc imageService, fileid string) (any, error) {
				if err := svc.Delete(ctx, fileid); err != nil {
					return nil, err
				}
				return map[string]any{"fileid": fileid, "deleted": true}, nil
			})
		},
	}
	cmd.Flags().BoolVarP(&c.yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

// confirm asks on an interactive stdin. Without a terminal --yes is required.
func (c *cli) confirm(question string) error {
	if c.yes {
		return nil
	}
	if !c.isTerminal() {
		return errors.New("refusing to continue without --yes: stdin is not a terminal")
	}
	fmt.Fprintf(c.out, "%s [y/N]: ", question)
	answer, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return nil
	default:
		return errors.New("aborted")
	}
}

func (c *cli) unlockCmd() *cobra.Command {
	var more bool
	cmd := &cobra.Command{
		Use:   "unlock FILEID...",
		Short: "Clear the upload lock, or extend it with --more",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.forEach(cmd.Context(), args, func(ctx context.Context, svc imageService, fileid string) (any, error) {
				if more {
					left, err := svc.LockMore(ctx, fileid)
					if err != nil {
						return nil, err
					}
					return map[string]any{"fileid": fileid, "locked": true, "remaining": left.Round(time.Second).String()}, nil
				}
				if err := svc.Unlock(ctx, fileid); err != nil {
					return nil, err
				}
				return map[string]any{"fileid": fileid, "locked": false}, nil
			})
		},
	}
	cmd.Flags().BoolVar(&more, "more", false, "Extend the lock by another hour")
	return cmd
}

func (c *cli) prepare(ctx context.Context, svc imageService, fileid string) (any, error) {
	return svc.Prepare(ctx, fileid)
}

func (c *cli) ranges(ctx context.Context, svc imageService, fileid string) (any, error) {
	zooms, err := svc.Ranges(ctx, fileid)
	if err != nil {
		return nil, err
	}
	return map[string]any{"fileid": fileid, "ranges": zooms}, nil
}

func (c *cli) count(ctx context.Context, svc imageService, fileid string) (any, error) {
	counts, cached, err := svc.Count(ctx, fileid)
	if err != nil {
		return nil, err
	}
	return map[string]any{"fileid": fileid, "tiles": counts, "cached": cached}, nil
}

func (c *cli) recalcSize(ctx context.Context, svc imageService, fileid string) (any, error) {
	dims, err := svc.RecalculateSize(ctx, fileid)
	if err != nil {
		return nil, err
	}
	return map[string]any{"fileid": fileid, "width": dims.Width, "height": dims.Height}, nil
}

func (c *cli) lock(ctx context.Context, svc imageService, fileid string) (any, error) {
	if err := svc.Lock(ctx, fileid); err != nil {
		return nil, err
	}
	return map[string]any{"fileid": fileid, "locked": true}, nil
}

func (c *cli) optimize(ctx context.Context, svc imageService, fileid string) (any, error) {
	report, err := svc.Optimize(ctx, fileid)
	if err != nil {
		return nil, err
	}
	return map[string]any{"fileid": fileid, "report": report}, nil
}
