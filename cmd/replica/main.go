// Command replica is the local-first collaboration client.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/replica/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "replica:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
