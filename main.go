package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	flagWorkers   int
	flagOverwrite bool
	flagVerbose   bool
	flagNoColor   bool
)

var rootCmd = &cobra.Command{
	Use:   "backpork",
	Short: "Backport console executables to an older firmware revision",
	Long: "backpork decrypts signed executable containers, rewrites their SDK " +
		"version markers for an older loader and re-wraps them with a fake " +
		"signature, mirroring the input tree under the output directory.",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagNoColor {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().IntVar(&flagWorkers, "workers", 4, "Maximum number of parallel workers")
	rootCmd.PersistentFlags().BoolVar(&flagOverwrite, "overwrite", false, "Overwrite existing output files")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(decryptCmd, downgradeCmd, fullCmd, libcCmd, pairsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
