package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"stallmanager/backend/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
