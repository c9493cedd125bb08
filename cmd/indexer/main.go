package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "Near-real-time word index over watched files",
	Long: `indexer watches files and directories, keeps an in-memory inverted
index of the words they contain, and answers word lookups over HTTP.

Run "indexer serve" to start the service and "indexer lookup" to query it.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
