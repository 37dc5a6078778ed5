// Command ownsim runs and records ownership simulator programs.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/ownsim/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		// ExitErrors have already been reported in the requested format.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	os.Exit(cli.GetExitCode(err))
}
