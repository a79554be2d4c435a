package main

import (
	"os"

	"github.com/scrypster/cadence/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Stderr))
}
