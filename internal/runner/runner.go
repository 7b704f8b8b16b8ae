package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/keagan/reelcutter/internal/pipeline"
	"github.com/keagan/reelcutter/internal/report"
	"github.com/keagan/reelcutter/internal/store"
	"github.com/keagan/reelcutter/pkg/util"
)

// ErrBusy is returned when another process is rendering into the output directory
var ErrBusy = errors.New("output directory is locked by another run")

// lockName is the lock file kept inside the output directory
const lockName = ".reelcutter.lock"

// Processor runs the pipeline over one input
type Processor interface {
	Run(ctx context.Context, input string, opts pipeline.Options) (*pipeline.Result, error)
}

// Options configures a Runner
type Options struct {
	OutputDir string
	// WriteDocx enables the per-run caption transcript document.
	WriteDocx bool
}

// Runner executes pipeline runs one at a time and records them in the ledger.
// Runs never overlap, within this process or across processes sharing the
// output directory.
type Runner struct {
	logger zerolog.Logger
	proc   Processor
	ledger *store.Store
	opts   Options
	lock   *flock.Flock

	mu sync.Mutex
	wg sync.WaitGroup
}

// New creates a runner
func New(logger zerolog.Logger, proc Processor, ledger *store.Store, opts Options) *Runner {
	return &Runner{
		logger: logger.With().Str("component", "runner").Logger(),
		proc:   proc,
		ledger: ledger,
		opts:   opts,
		lock:   flock.New(filepath.Join(opts.OutputDir, lockName)),
	}
}

// Process records a run for input and executes it synchronously
func (r *Runner) Process(ctx context.Context, input string) (*store.Run, error) {
	run, err := r.ledger.CreateRun(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := r.execute(ctx, run); err != nil {
		return r.reload(ctx, run), err
	}
	return r.reload(ctx, run), nil
}

// Submit records a run for input and executes it in the background. Runs
// submitted while another is active wait their turn.
func (r *Runner) Submit(ctx context.Context, input string) (*store.Run, error) {
	run, err := r.ledger.CreateRun(ctx, input)
	if err != nil {
		return nil, err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.execute(ctx, run); err != nil {
			r.logger.Error().Err(err).Str("run_id", run.ID).Str("input", input).Msg("run failed")
		}
	}()
	return run, nil
}

// Wait blocks until every submitted run has finished
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) execute(ctx context.Context, run *store.Run) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	logger := r.logger.With().Str("run_id", run.ID).Str("input", run.InputPath).Logger()

	var result *pipeline.Result
	defer func() {
		r.finish(logger, run, result, err)
	}()

	if err := util.EnsureDir(r.opts.OutputDir); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	locked, err := r.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire output lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrBusy, r.opts.OutputDir)
	}
	defer func() {
		if unlockErr := r.lock.Unlock(); unlockErr != nil {
			logger.Warn().Err(unlockErr).Msg("failed to release output lock")
		}
	}()

	logger.Info().Msg("run started")
	result, err = r.proc.Run(ctx, run.InputPath, pipeline.Options{
		OutputDir: r.opts.OutputDir,
		OnReel: func(reel pipeline.Reel) {
			if err := r.ledger.AddReel(context.WithoutCancel(ctx), store.Reel{
				RunID:         run.ID,
				Index:         reel.Index,
				Start:         reel.Segment.Start,
				End:           reel.Segment.End,
				Score:         reel.Segment.Score,
				Reason:        reel.Segment.Reason,
				OutputPath:    reel.Path,
				SRTPath:       reel.SRTPath,
				CaptionGroups: len(reel.Groups),
			}); err != nil {
				logger.Warn().Err(err).Int("reel", reel.Index).Msg("failed to record reel")
			}
		},
	})
	return err
}

func (r *Runner) finish(logger zerolog.Logger, run *store.Run, result *pipeline.Result, runErr error) {
	outcome := store.Outcome{Status: store.StatusCompleted, Err: runErr}
	if runErr != nil {
		outcome.Status = store.StatusFailed
	}

	if result != nil {
		outcome.Candidates = len(result.Candidates)
		outcome.Skipped = len(result.Skipped)
		if r.opts.WriteDocx && len(result.Reels) > 0 {
			path := report.Path(r.opts.OutputDir, run.ID)
			if err := report.WriteCaptions(path, result); err != nil {
				logger.Warn().Err(err).Msg("failed to write caption transcript")
			} else {
				outcome.ReportPath = path
			}
		}
	}

	// the run row must reach a final state even when ctx was cancelled
	if err := r.ledger.FinishRun(context.Background(), run.ID, outcome); err != nil {
		logger.Error().Err(err).Msg("failed to record run outcome")
	}

	event := logger.Info()
	if runErr != nil {
		event = logger.Error().Err(runErr)
	}
	event.Str("status", string(outcome.Status)).
		Int("candidates", outcome.Candidates).
		Int("skipped", outcome.Skipped).
		Msg("run finished")
}

func (r *Runner) reload(ctx context.Context, run *store.Run) *store.Run {
	fresh, err := r.ledger.GetRun(context.WithoutCancel(ctx), run.ID)
	if err != nil {
		r.logger.Warn().Err(err).Str("run_id", run.ID).Msg("failed to reload run")
		return run
	}
	return fresh
}
