package imagedesk

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	RootCmd := &cobra.Command{
		Use:   "imagedesk",
		Short: "ImageDesk",
		Long:  `Remote session orchestrator for clinical imaging workstations`,
	}

	RootCmd.AddCommand(NewServeCmd())
	RootCmd.AddCommand(NewVersionCommand())

	return RootCmd
}

func Execute() {
	RootCmd := NewRootCmd()
	RootCmd.SetContext(context.Background())
	RootCmd.SetOutput(os.Stdout)

	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
