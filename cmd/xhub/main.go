package main

import (
	"fmt"
	"os"

	"github.com/trickstertwo/xhub/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "command error: %v\n", err)
		os.Exit(1)
	}
}
