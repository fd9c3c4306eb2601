package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/regata-dev/regata/cmd/regata/commands"
	"github.com/regata-dev/regata/pkg/orchestrator"
)

func main() {
	cmd := commands.NewCommand()
	if err := cmd.Execute(); err != nil {
		switch {
		case errors.Is(err, commands.ErrRunsFailed):
			// The report already shows which runs failed.
			os.Exit(1)
		case orchestrator.IsConfiguration(err):
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		default:
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
}
