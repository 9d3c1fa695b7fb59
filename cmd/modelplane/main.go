package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/questforge-ai/modelplane/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:     "modelplane",
	Short:   "Run the model management control plane",
	Long:    "Modelplane routes game inference traffic across LLM backends and manages the model lifecycle: registration, deployment, rollback, fine-tuning, and guardrails.",
	Version: fmt.Sprintf("gitVersion=%s, gitCommit=%s", version.GitVersion, version.GitCommit),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(migrateCommand())
}
