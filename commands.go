package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/iboots/Auto-Backpork-GUI/elfrw"
	"github.com/iboots/Auto-Backpork-GUI/pipeline"
	"github.com/iboots/Auto-Backpork-GUI/selfrw"
)

var (
	flagInput    string
	flagOutput   string
	flagSdkPair  int
	flagPaid     string
	flagPType    string
	flagFakelib  string
	flagNoLibc   bool
	flagNoRevert bool
	flagLibcDir  string
)

var decryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Decrypt containers back to raw ELF images",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(pipeline.ModeDecrypt)
	},
}

var downgradeCmd = &cobra.Command{
	Use:   "downgrade",
	Short: "Downgrade SDK markers in raw ELF images and fake-sign them",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(pipeline.ModeDowngrade)
	},
}

var fullCmd = &cobra.Command{
	Use:   "full",
	Short: "Full pipeline: decrypt, downgrade and fake-sign containers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(pipeline.ModeFull)
	},
}

var libcCmd = &cobra.Command{
	Use:       "libc (apply|revert|check)",
	Short:     "Apply, revert or check the libc patch in place",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"apply", "revert", "check"},
	RunE: func(cmd *cobra.Command, args []string) error {
		action, err := pipeline.ParseLibcAction(args[0])
		if err != nil {
			return err
		}
		statuses, err := pipeline.LibcMaintenance(afero.NewOsFs(), flagLibcDir, action)
		if err != nil {
			return err
		}
		printLibcStatuses(statuses, action)
		return nil
	},
}

var pairsCmd = &cobra.Command{
	Use:   "pairs",
	Short: "List the supported SDK version pairs",
	Run: func(cmd *cobra.Command, args []string) {
		printSdkPairs()
	},
}

func init() {
	for _, cmd := range []*cobra.Command{decryptCmd, downgradeCmd, fullCmd} {
		cmd.Flags().StringVarP(&flagInput, "input", "i", "", "Input directory")
		cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "Output directory")
		_ = cmd.MarkFlagRequired("input")
		_ = cmd.MarkFlagRequired("output")
	}
	for _, cmd := range []*cobra.Command{downgradeCmd, fullCmd} {
		cmd.Flags().IntVar(&flagSdkPair, "sdk-pair", 4, "SDK version pair id (see 'backpork pairs')")
		cmd.Flags().StringVar(&flagPaid, "paid", "0x3100000000000002", "Program authority id (64-bit, hex accepted)")
		cmd.Flags().StringVar(&flagPType, "ptype", "fake", "Program type: "+fmt.Sprint(selfrw.PTypeNames()))
		cmd.Flags().StringVar(&flagFakelib, "fakelib", "", "Directory of fakelib stubs to place next to outputs")
		cmd.Flags().BoolVar(&flagNoLibc, "no-libc-patch", false, "Skip applying the libc patch to outputs")
		cmd.Flags().BoolVar(&flagNoRevert, "no-libc-revert", false, "Skip reverting the libc patch on outputs")
	}
	libcCmd.Flags().StringVarP(&flagLibcDir, "input", "i", "", "Directory to patch in place")
	_ = libcCmd.MarkFlagRequired("input")
}

func buildConfig(mode pipeline.Mode) (pipeline.Config, error) {
	cfg := pipeline.Config{
		Mode:       mode,
		InputDir:   flagInput,
		OutputDir:  flagOutput,
		FakelibDir: flagFakelib,
		Workers:    flagWorkers,
		Overwrite:  flagOverwrite,
		LibcPatch:  !flagNoLibc,
		LibcRevert: !flagNoRevert,
	}
	if mode == pipeline.ModeDecrypt {
		return cfg, nil
	}

	paid, err := strconv.ParseUint(flagPaid, 0, 64)
	if err != nil {
		return cfg, fmt.Errorf("invalid paid %q: %w", flagPaid, err)
	}
	ptype, err := selfrw.ParsePType(flagPType)
	if err != nil {
		return cfg, err
	}
	pair, err := elfrw.PairByID(flagSdkPair)
	if err != nil {
		return cfg, err
	}
	cfg.Params = selfrw.SigningParameters{Paid: paid, PType: ptype, Pair: pair}
	return cfg, nil
}

func runPipeline(mode pipeline.Mode) error {
	cfg, err := buildConfig(mode)
	if err != nil {
		return err
	}

	orch, err := pipeline.New(afero.NewOsFs(), cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := orch.Run(ctx)
	if report != nil {
		printReport(report, flagVerbose)
	}
	if err != nil {
		return err
	}
	if failed := report.Failed(); failed > 0 {
		return fmt.Errorf("%d file(s) failed", failed)
	}
	return nil
}
