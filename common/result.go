package common

import "fmt"

// Outcome classifies the end state of one file's pipeline run.
type Outcome int

const (
	OutcomeDone Outcome = iota
	OutcomeSkipped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "DONE"
	case OutcomeSkipped:
		return "SKIPPED"
	case OutcomeFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// DiagKind identifies a warning-level condition attached to an otherwise
// successful result.
type DiagKind int

const (
	DiagVersionMismatch DiagKind = iota
	DiagMissingFakelib
)

func (k DiagKind) String() string {
	switch k {
	case DiagVersionMismatch:
		return "VersionMismatch"
	case DiagMissingFakelib:
		return "MissingFakelib"
	}
	return "Unknown"
}

// Diagnostic is a non-fatal condition reported by a pipeline stage.
// Diagnostics never abort a file's processing.
type Diagnostic struct {
	Kind   DiagKind
	Detail string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s(%q)", d.Kind, d.Detail)
}

// ProcessingResult is the per-file record accumulated into the batch
// report. Failures are values here, never control flow: a failed file
// carries its stage and error and the batch keeps going.
type ProcessingResult struct {
	Path        string
	OutputPath  string
	Outcome     Outcome
	Stage       string
	Err         error
	Diagnostics []Diagnostic
	InputSize   int64
	OutputSize  int64
	Checksum    uint64

	// Effects of the libc patch step on this file's image.
	LibcApplied  bool
	LibcReverted bool
}

// NewDone creates a result for a successfully processed file.
func NewDone(path, outputPath string, diags []Diagnostic) *ProcessingResult {
	return &ProcessingResult{
		Path:        path,
		OutputPath:  outputPath,
		Outcome:     OutcomeDone,
		Diagnostics: diags,
	}
}

// NewSkipped creates a result for a file that required no work.
func NewSkipped(path, reason string) *ProcessingResult {
	return &ProcessingResult{
		Path:    path,
		Outcome: OutcomeSkipped,
		Stage:   reason,
	}
}

// NewFailed creates a result for a file that failed in the named stage.
func NewFailed(path, stage string, err error) *ProcessingResult {
	return &ProcessingResult{
		Path:    path,
		Outcome: OutcomeFailed,
		Stage:   stage,
		Err:     err,
	}
}

// String returns a human-readable representation
func (r *ProcessingResult) String() string {
	switch r.Outcome {
	case OutcomeFailed:
		return fmt.Sprintf("FAILED (%s: %v)", r.Stage, r.Err)
	case OutcomeSkipped:
		return fmt.Sprintf("SKIPPED (%s)", r.Stage)
	}
	if len(r.Diagnostics) > 0 {
		return fmt.Sprintf("DONE (%d warning(s))", len(r.Diagnostics))
	}
	return "DONE"
}
