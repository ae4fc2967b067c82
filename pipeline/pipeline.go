package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/iboots/Auto-Backpork-GUI/common"
	"github.com/iboots/Auto-Backpork-GUI/elfrw"
	"github.com/iboots/Auto-Backpork-GUI/selfrw"
)

// Mode selects which ordered subset of stages each file runs through.
type Mode int

const (
	ModeDecrypt Mode = iota
	ModeDowngrade
	ModeFull
)

func (m Mode) String() string {
	switch m {
	case ModeDecrypt:
		return "decrypt"
	case ModeDowngrade:
		return "downgrade"
	case ModeFull:
		return "full"
	}
	return "unknown"
}

// ParseMode resolves a mode name from the command line.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "decrypt":
		return ModeDecrypt, nil
	case "downgrade":
		return ModeDowngrade, nil
	case "full":
		return ModeFull, nil
	}
	return 0, fmt.Errorf("unknown mode %q", name)
}

// inputKind is the file class each mode consumes.
func (m Mode) inputKind() FileKind {
	if m == ModeDowngrade {
		return KindELF
	}
	return KindContainer
}

const (
	minWorkers = 1
	maxWorkers = 16

	// LibcPatchPairCutoff splits sdk pairs into "needs the libc patch"
	// (at or below) and "needs it reverted" (above).
	LibcPatchPairCutoff = 6
)

// Config is the immutable run configuration shared by every file's
// pipeline run. There is no process-wide state; a config is built once
// and passed in.
type Config struct {
	Mode       Mode
	InputDir   string
	OutputDir  string
	Params     selfrw.SigningParameters
	FakelibDir string
	Workers    int
	Overwrite  bool
	LibcPatch  bool // apply the libc patch to outputs when pair <= cutoff
	LibcRevert bool // revert it when pair > cutoff
}

// Validate collects every configuration problem instead of stopping at
// the first one.
func (c *Config) Validate() error {
	var errs *multierror.Error
	if c.InputDir == "" {
		errs = multierror.Append(errs, fmt.Errorf("input directory is required"))
	}
	if c.OutputDir == "" {
		errs = multierror.Append(errs, fmt.Errorf("output directory is required"))
	}
	if c.Mode != ModeDecrypt {
		if err := c.Params.Validate(); err != nil {
			errs = multierror.Append(errs, err)
		}
		if _, err := elfrw.PairByID(c.Params.Pair.ID); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (c *Config) workers() int {
	if c.Workers < minWorkers {
		return minWorkers
	}
	if c.Workers > maxWorkers {
		return maxWorkers
	}
	return c.Workers
}

// Report is the aggregate outcome of one batch. One result slot exists
// per discovered file, written exactly once by the worker that owns it.
type Report struct {
	Results      []*common.ProcessingResult
	LibcApplied  int
	LibcReverted int
	FakelibCount int
	FakelibDirs  []string
}

func (r *Report) Done() int    { return r.count(common.OutcomeDone) }
func (r *Report) Skipped() int { return r.count(common.OutcomeSkipped) }
func (r *Report) Failed() int  { return r.count(common.OutcomeFailed) }

func (r *Report) count(outcome common.Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Orchestrator drives a batch: discovery, per-file stage dispatch on a
// bounded worker pool, and the post-processing steps over the output
// tree. It is the only component whose lifetime spans multiple files.
type Orchestrator struct {
	fs      afero.Fs
	cfg     Config
	fakelib *selfrw.FakelibSet
}

// New validates the configuration and loads the fakelib stub set, if one
// was configured.
func New(fs afero.Fs, cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{fs: fs, cfg: cfg}
	if cfg.FakelibDir != "" && cfg.Mode != ModeDecrypt {
		set, err := loadFakelibSet(fs, cfg.FakelibDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load fakelib directory: %w", err)
		}
		o.fakelib = set
	}
	return o, nil
}

// Run processes every matching file under the input directory and
// returns the batch report. One file's failure never affects another
// file's scheduling or result; an empty input tree yields an empty,
// successful report. Cancelling the context stops scheduling new files
// and leaves already-written outputs intact.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	files, err := discover(o.fs, o.cfg.InputDir, o.cfg.Mode.inputKind())
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}

	report := &Report{Results: make([]*common.ProcessingResult, len(files))}

	g := &errgroup.Group{}
	g.SetLimit(o.cfg.workers())
	for i, rel := range files {
		if ctx.Err() != nil {
			report.Results[i] = common.NewSkipped(rel, "canceled")
			continue
		}
		g.Go(func() error {
			report.Results[i] = o.processFile(rel)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range report.Results {
		if res.LibcApplied {
			report.LibcApplied++
		}
		if res.LibcReverted {
			report.LibcReverted++
		}
	}

	if o.cfg.Mode != ModeDecrypt && ctx.Err() == nil {
		if err := o.mergeFakelibs(report); err != nil {
			return report, err
		}
	}
	return report, nil
}

// processFile runs one file through the stage sequence for the selected
// mode. Each stage consumes the previous stage's buffer; the first
// failing stage decides the result.
func (o *Orchestrator) processFile(rel string) *common.ProcessingResult {
	inPath := filepath.Join(o.cfg.InputDir, rel)
	outPath := filepath.Join(o.cfg.OutputDir, rel)

	if !o.cfg.Overwrite {
		if ok, _ := afero.Exists(o.fs, outPath); ok {
			return common.NewSkipped(rel, "output exists")
		}
	}

	data, err := afero.ReadFile(o.fs, inPath)
	if err != nil {
		return common.NewFailed(rel, "read", err)
	}
	inputSize := int64(len(data))

	var diags []common.Diagnostic

	if o.cfg.Mode == ModeDecrypt || o.cfg.Mode == ModeFull {
		if data, err = selfrw.Decrypt(data); err != nil {
			return common.NewFailed(rel, "decrypt", err)
		}
	}

	var libcApplied, libcReverted bool
	if o.cfg.Mode == ModeDowngrade || o.cfg.Mode == ModeFull {
		ef, err := elfrw.Open(data)
		if err != nil {
			return common.NewFailed(rel, "downgrade", err)
		}
		patched, downgradeDiags, err := ef.Downgrade(o.cfg.Params.Pair)
		if err != nil {
			return common.NewFailed(rel, "downgrade", err)
		}
		diags = append(diags, downgradeDiags...)

		// The libc patch targets plaintext bytes, so it has to land
		// before the image is wrapped and encrypted.
		patched, libcApplied, libcReverted, err = o.libcStep(patched)
		if err != nil {
			return common.NewFailed(rel, "libc-patch", err)
		}

		signed, signDiags, err := selfrw.Sign(patched, o.cfg.Params, o.fakelib)
		if err != nil {
			return common.NewFailed(rel, "sign", err)
		}
		diags = append(diags, signDiags...)
		data = signed
	}

	if err := o.writeOutput(outPath, data); err != nil {
		return common.NewFailed(rel, "write", err)
	}

	result := common.NewDone(rel, outPath, diags)
	result.LibcApplied = libcApplied
	result.LibcReverted = libcReverted
	result.InputSize = inputSize
	result.OutputSize = int64(len(data))
	result.Checksum = xxhash.Sum64(data)
	return result
}

// writeOutput mirrors the input's relative path under the output root.
// Data lands under a temporary name first and is renamed into place, so
// a canceled or crashed run never leaves a half-written binary.
func (o *Orchestrator) writeOutput(outPath string, data []byte) error {
	if err := o.fs.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmpPath := outPath + ".partial"
	if err := afero.WriteFile(o.fs, tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := o.fs.Rename(tmpPath, outPath); err != nil {
		_ = o.fs.Remove(tmpPath)
		return fmt.Errorf("failed to finalize output: %w", err)
	}
	return nil
}

// libcStep applies or reverts the libc patch on the plaintext image,
// depending on which side of the pair cutoff the run sits. Images
// carrying neither signature pass through untouched.
func (o *Orchestrator) libcStep(image []byte) ([]byte, bool, bool, error) {
	apply := o.cfg.LibcPatch && o.cfg.Params.Pair.ID <= LibcPatchPairCutoff
	revert := o.cfg.LibcRevert && o.cfg.Params.Pair.ID > LibcPatchPairCutoff
	if !apply && !revert {
		return image, false, false, nil
	}

	var pr common.PatchResult
	var err error
	if apply {
		pr, err = common.ApplyLibcPatch(image)
	} else {
		pr, err = common.RevertLibcPatch(image)
	}
	if err != nil {
		return nil, false, false, err
	}
	return pr.Image, apply && pr.Applied, revert && pr.Applied, nil
}
