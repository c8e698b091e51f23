package main

import (
	"os"

	"kistrader/cmd/kistrader/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
