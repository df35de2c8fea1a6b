package main

import (
	"os"

	"github.com/porthorian/consoleauth/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
