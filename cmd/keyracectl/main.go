package main

import (
	"os"

	keyracecmd "github.com/keyrace/keyracectl/pkg/keyracectl/cmd"
)

func main() {
	root := keyracecmd.NewRootCommand(keyracecmd.DefaultConfig())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
