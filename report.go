package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/iboots/Auto-Backpork-GUI/common"
	"github.com/iboots/Auto-Backpork-GUI/elfrw"
	"github.com/iboots/Auto-Backpork-GUI/pipeline"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed)
	infoColor = color.New(color.FgCyan)
	boldColor = color.New(color.Bold)
)

func printReport(report *pipeline.Report, verbose bool) {
	for _, res := range report.Results {
		printResult(res, verbose)
	}

	if len(report.Results) == 0 {
		warnColor.Printf("No matching files found in input directory\n")
		return
	}

	var totalIn, totalOut int64
	for _, res := range report.Results {
		totalIn += res.InputSize
		totalOut += res.OutputSize
	}

	fmt.Println()
	boldColor.Println("Summary:")
	fmt.Printf("  Files processed: %d\n", len(report.Results))
	okColor.Printf("  Done: %d\n", report.Done())
	if n := report.Skipped(); n > 0 {
		warnColor.Printf("  Skipped: %d\n", n)
	}
	if n := report.Failed(); n > 0 {
		failColor.Printf("  Failed: %d\n", n)
	}
	if totalOut > 0 {
		infoColor.Printf("  Bytes written: %s (from %s read)\n",
			humanize.Bytes(uint64(totalOut)), humanize.Bytes(uint64(totalIn)))
	}
	if report.LibcApplied > 0 {
		infoColor.Printf("  Libc patch applied to %d file(s)\n", report.LibcApplied)
	}
	if report.LibcReverted > 0 {
		infoColor.Printf("  Libc patch reverted on %d file(s)\n", report.LibcReverted)
	}
	if report.FakelibCount > 0 {
		infoColor.Printf("  Placed %d fakelib stub(s) across %d location(s)\n",
			report.FakelibCount, len(report.FakelibDirs))
	}
}

func printResult(res *common.ProcessingResult, verbose bool) {
	switch res.Outcome {
	case common.OutcomeFailed:
		failColor.Printf("  ✗ %s: %s: %v\n", res.Path, res.Stage, res.Err)
	case common.OutcomeSkipped:
		warnColor.Printf("  - %s: skipped (%s)\n", res.Path, res.Stage)
	default:
		okColor.Printf("  ✓ %s\n", res.Path)
		for _, diag := range res.Diagnostics {
			warnColor.Printf("      ⚠ %s\n", diag)
		}
		if verbose {
			fmt.Printf("      %s -> %s, checksum %016x\n",
				humanize.Bytes(uint64(res.InputSize)), humanize.Bytes(uint64(res.OutputSize)), res.Checksum)
		}
	}
}

func printLibcStatuses(statuses []pipeline.LibcFileStatus, action pipeline.LibcAction) {
	if len(statuses) == 0 {
		warnColor.Println("No matching files found in input directory")
		return
	}

	changed := 0
	for _, status := range statuses {
		switch {
		case status.Err != nil:
			failColor.Printf("  ✗ %s: %v\n", status.Path, status.Err)
		case status.Applied:
			okColor.Printf("  ✓ %s\n", status.Path)
			changed++
		default:
			fmt.Printf("  %s: %s\n", status.Path, status.State)
		}
	}

	if action != pipeline.LibcCheck {
		infoColor.Printf("\n%d file(s) modified\n", changed)
	}
}

func printSdkPairs() {
	boldColor.Println("Supported SDK version pairs:")
	for _, pair := range elfrw.SupportedPairs() {
		marker := " "
		if pair.ID <= pipeline.LibcPatchPairCutoff {
			marker = "*"
		}
		fmt.Printf("  %2d%s  0x%08X -> 0x%08X\n", pair.ID, marker, pair.Source, pair.Target)
	}
	fmt.Fprintln(os.Stdout, "\n(* pairs at or below the cutoff get the libc patch applied to outputs)")
}
