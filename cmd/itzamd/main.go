package main

import (
	"fmt"
	"os"

	"github.com/itzam-ai/itzam-sub000/internal/cli"
	"github.com/itzam-ai/itzam-sub000/internal/cli/admin"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "itzamd",
		Short: "Itzam ingestion daemon",
		Long:  "Itzam daemon for running the resource ingestion API server and background rescrape worker",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
