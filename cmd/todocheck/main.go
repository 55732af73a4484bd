// Package main provides the todocheck CLI.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/todocheck/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "todocheck:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
