package main

import (
	"fmt"

	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCommand() (*cobra.Command, error) {
	root := &cobra.Command{
		Use:          "duet",
		Short:        "duet runs a live two-party AI dialogue feed",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initLogging(cmd)
		},
	}
	if err := clay.InitGlazed("duet", root); err != nil {
		return nil, errors.Wrap(err, "init glazed")
	}
	helpSystem := help.NewHelpSystem()
	help_cmd.SetupCobraRootCommand(helpSystem, root)

	serve, err := newServeCobraCommand(runServe)
	if err != nil {
		return nil, err
	}
	root.AddCommand(serve, newVersionCommand())
	return root, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the duet version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func main() {
	root, err := newRootCommand()
	cobra.CheckErr(err)
	cobra.CheckErr(root.Execute())
}
