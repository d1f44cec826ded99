package main

import (
	"io"
	"os"

	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// initLogging applies the glazed logging flags. When stderr is not a
// terminal and neither --log-format nor --log-file was given, the console
// writer is swapped for JSON lines.
func initLogging(cmd *cobra.Command) error {
	if err := logging.InitLoggerFromCobra(cmd); err != nil {
		return errors.Wrap(err, "init logger")
	}
	if flagChanged(cmd, "log-format") || flagChanged(cmd, "log-file") || isTerminal(os.Stderr) {
		return nil
	}
	log.Logger = log.Logger.Output(os.Stderr)
	return nil
}

func flagChanged(cmd *cobra.Command, name string) bool {
	f := cmd.Flags().Lookup(name)
	return f != nil && f.Changed
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
