package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "boqctl",
		Short: "BOQ reconciliation from the command line",
		Long:  `Match bills of quantities against a price catalogue and solve per-key coefficients under stage budgets`,

		SilenceUsage: true,
	}

	var opts globalOptions
	rootCmd.PersistentFlags().StringVar(&opts.configDir, "config", ".", "directory containing config.toml and .env")
	rootCmd.PersistentFlags().StringSliceVar(&opts.catalogues, "catalogue", nil, "price catalogue workbook (repeatable)")
	rootCmd.PersistentFlags().StringVar(&opts.forecast, "forecast", "", "stage forecast workbook")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(createMatchCmd(&opts))
	rootCmd.AddCommand(createOptimizeCmd(&opts))

	return rootCmd
}
