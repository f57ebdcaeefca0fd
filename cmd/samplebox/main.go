// Samplebox runs shuffled, history-aware samples of a Go test suite
// inside a soft time budget.
package main

import (
	"fmt"
	"os"

	"github.com/fenwick-dev/samplebox/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
