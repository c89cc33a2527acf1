package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:   "conncheck",
		Usage:  "Check connectivity to the Kafka, Redis and Cassandra backends configured in the environment",
		Flags:  runFlags(),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
