package main

import (
	"fmt"
	"os"

	"github.com/dialogkernel/driver/internal/interfaces/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitRuntimeFatal)
	}
}
