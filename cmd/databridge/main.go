package main

import (
	"os"

	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
