package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/keagan/reelcutter/internal/captions"
	"github.com/keagan/reelcutter/internal/clips"
	"github.com/keagan/reelcutter/internal/pipeline"
	"github.com/keagan/reelcutter/internal/store"
)

type fakeProcessor struct {
	mu      sync.Mutex
	reels   int
	err     error
	active  int
	overlap bool
	inputs  []string
}

func (f *fakeProcessor) Run(_ context.Context, input string, opts pipeline.Options) (*pipeline.Result, error) {
	f.mu.Lock()
	f.active++
	if f.active > 1 {
		f.overlap = true
	}
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()
	time.Sleep(10 * time.Millisecond)

	result := &pipeline.Result{Input: input, Candidates: make([]clips.Segment, f.reels+1)}
	for i := 1; i <= f.reels; i++ {
		reel := pipeline.Reel{
			Index:   i,
			Segment: clips.Segment{Start: float64(i * 10), End: float64(i*10 + 60), Reason: "peak"},
			Path:    filepath.Join(opts.OutputDir, clips.ReelName(i, clips.Segment{Reason: "peak"}, "mp4")),
			Groups:  []captions.Group{{Start: 0, End: 1, Tokens: []captions.Token{{Start: 0, End: 1, Text: "hi"}}}},
		}
		result.Reels = append(result.Reels, reel)
		if opts.OnReel != nil {
			opts.OnReel(reel)
		}
	}
	return result, f.err
}

func newTestRunner(t *testing.T, proc Processor, writeDocx bool) (*Runner, *store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	ledger, err := store.Open(context.Background(), filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ledger.Close() })

	out := filepath.Join(dir, "outputs")
	return New(zerolog.Nop(), proc, ledger, Options{OutputDir: out, WriteDocx: writeDocx}), ledger, out
}

func TestProcessRecordsRun(t *testing.T) {
	runner, _, out := newTestRunner(t, &fakeProcessor{reels: 2}, true)

	run, err := runner.Process(context.Background(), "/videos/a.mp4")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if run.Status != store.StatusCompleted {
		t.Errorf("status = %q, want completed", run.Status)
	}
	if run.Candidates != 3 || len(run.Reels) != 2 {
		t.Errorf("candidates = %d, reels = %d", run.Candidates, len(run.Reels))
	}
	if run.Reels[1].Index != 2 || run.Reels[1].CaptionGroups != 1 {
		t.Errorf("reel = %#v", run.Reels[1])
	}

	wantReport := filepath.Join(out, "captions_"+run.ID+".docx")
	if run.ReportPath != wantReport {
		t.Errorf("report = %q, want %q", run.ReportPath, wantReport)
	}
	if _, err := os.Stat(wantReport); err != nil {
		t.Errorf("report not written: %v", err)
	}
}

func TestProcessRecordsFailure(t *testing.T) {
	boom := errors.New("boom")
	runner, _, out := newTestRunner(t, &fakeProcessor{err: boom}, true)

	run, err := runner.Process(context.Background(), "/videos/a.mp4")
	if !errors.Is(err, boom) {
		t.Fatalf("Process() error = %v, want boom", err)
	}
	if run.Status != store.StatusFailed || run.ErrorMessage != "boom" {
		t.Errorf("run = %#v", run)
	}
	if run.ReportPath != "" {
		t.Errorf("report written for a run without reels: %q", run.ReportPath)
	}
	if _, err := os.Stat(filepath.Join(out, "captions_"+run.ID+".docx")); !os.IsNotExist(err) {
		t.Errorf("unexpected report file: %v", err)
	}
}

func TestProcessRefusesLockedOutput(t *testing.T) {
	proc := &fakeProcessor{reels: 1}
	runner, _, out := newTestRunner(t, proc, false)

	if err := os.MkdirAll(out, 0o755); err != nil {
		t.Fatal(err)
	}
	other := flock.New(filepath.Join(out, lockName))
	locked, err := other.TryLock()
	if err != nil || !locked {
		t.Fatalf("could not take lock: %v", err)
	}
	defer other.Unlock()

	run, err := runner.Process(context.Background(), "/videos/a.mp4")
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("Process() error = %v, want ErrBusy", err)
	}
	if run.Status != store.StatusFailed {
		t.Errorf("status = %q, want failed", run.Status)
	}
	if len(proc.inputs) != 0 {
		t.Error("pipeline ran while the output directory was locked")
	}
}

func TestSubmitRunsOneAtATime(t *testing.T) {
	proc := &fakeProcessor{reels: 1}
	runner, ledger, _ := newTestRunner(t, proc, false)
	ctx := context.Background()

	var ids []string
	for _, input := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		run, err := runner.Submit(ctx, input)
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if run.Status != store.StatusRunning {
			t.Errorf("submitted status = %q, want running", run.Status)
		}
		ids = append(ids, run.ID)
	}
	runner.Wait()

	if proc.overlap {
		t.Error("runs overlapped")
	}
	if len(proc.inputs) != 3 {
		t.Errorf("processed %d inputs, want 3", len(proc.inputs))
	}
	for _, id := range ids {
		run, err := ledger.GetRun(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if run.Status != store.StatusCompleted || len(run.Reels) != 1 {
			t.Errorf("run %s = %#v", id, run)
		}
	}
}
