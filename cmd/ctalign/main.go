package main

import (
	"os"

	"ctalign/cmd/ctalign/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
