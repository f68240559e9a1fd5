package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bayuaji732/data-prep-api/internal/cli"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dataprep",
	Short: "Stage, materialize and export datasets asynchronously",
}

func main() {
	cli.SetupCLI(rootCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
