package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

// run wires the cobra command tree and maps its result to the exit-code
// contract: 0 clean, 1 completed with per-file failures, 2 fatal error.
func run() int {
	root := &cobra.Command{
		Use:          "dupedog",
		Short:        "Find and deduplicate files",
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newDedupeCmd())

	if err := root.Execute(); err != nil {
		if errors.Is(err, errPartialFailure) {
			return 1
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	return 0
}
