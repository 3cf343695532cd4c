// Command boardreplica runs the reference remote, replica scenarios and
// board projections from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/boardreplica/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
