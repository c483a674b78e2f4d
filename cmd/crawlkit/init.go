package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/crawlkit/internal/config"
)

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a crawlkit configuration file",
		Long: `Init writes a commented .crawlkit.yaml to the current directory.

The file lists every setting with its default value and shows how to
configure per-site headers, cookies, depth and URL patterns.

Examples:
  # Create .crawlkit.yaml in the current directory
  crawlkit init

  # Create the file at a specific path
  crawlkit init -o configs/crawl.yaml

  # Overwrite an existing file
  crawlkit init -f`,
		Args: cobra.NoArgs,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", config.DefaultConfigFile,
		"Output file path for the configuration")
	cmd.Flags().BoolP("force", "f", false,
		"Overwrite existing configuration file")

	return cmd
}

func runInitCmd(cmd *cobra.Command, _ []string) error {
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if err := config.WriteTemplate(outputPath, force); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created configuration file: %s\n", outputPath)
	fmt.Fprintln(out, "\nEdit this file to configure:")
	fmt.Fprintln(out, "  - Concurrency, retry limits and timeouts")
	fmt.Fprintln(out, "  - The cache backend")
	fmt.Fprintln(out, "  - Per-site headers, cookies, depth and URL patterns")
	return nil
}
