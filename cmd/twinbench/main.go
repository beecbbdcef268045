// Command twinbench runs fleet scenarios through the digital-twin workbenches.
//
// Usage:
//
//	twinbench simulate scenario.yaml
//	twinbench realtime scenario.yaml
//
// The environment configures logging and persistence; see config.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "twinbench:", err)
		os.Exit(1)
	}
}
