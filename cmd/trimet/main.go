// Command trimet runs the TriMet vehicle position pipeline.
package main

import (
	"os"

	"github.com/trimet-twin/pipeline/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
