package main

import (
	"os"

	"github.com/cardkeeper/cardkeeper/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
