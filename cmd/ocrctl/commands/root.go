package commands

import (
	"github.com/spf13/cobra"

	"github.com/QThans/MinerU-runpod/cmd/ocrctl/ui"
)

var (
	cfgFile string
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "ocrctl",
	Short: "Extract markdown from PDFs and images",
	Long: `ocrctl runs the OCR pipeline locally, submits documents to a running
OCR API, and replays serverless jobs on this machine.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.InitUI(noColor, verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
