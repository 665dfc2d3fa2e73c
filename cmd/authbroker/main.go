// Package main is the entry point for the bazel-auth-broker binary.
package main

import (
	"fmt"
	"os"

	"github.com/trenner1/bazel-auth-broker/cmd/authbroker/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "there was an error: %v\n", err)
		os.Exit(app.ExitCodeFor(err))
	}
}
