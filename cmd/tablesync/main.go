// Command tablesync runs and inspects card table replication scenarios.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/tablesync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
