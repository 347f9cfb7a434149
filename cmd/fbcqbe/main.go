package main

import (
	"os"

	"fbcqbe/cmd/fbcqbe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
