package main

import (
	"time"

	"github.com/urfave/cli/v2"
)

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "backend",
			Aliases: []string{"b"},
			Usage:   "Backends to check (comma-separated: kafka, redis, cassandra). Empty checks all",
			EnvVars: []string{"CONNCHECK_BACKENDS"},
		},
		&cli.StringFlag{
			Name:    "env-file",
			Aliases: []string{"e"},
			Usage:   "dotenv file loaded before reading the environment",
			EnvVars: []string{"ENV_FILE"},
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Usage:   "Overall deadline for connecting and probing",
			Value:   30 * time.Second,
		},
		&cli.StringFlag{
			Name:    "log-level",
			Aliases: []string{"l"},
			Usage:   "Log level (debug, info, warn, error). Defaults by ENV_NAME",
			EnvVars: []string{"LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:  "metrics-file",
			Usage: "Write backend status in Prometheus text format to this file (node_exporter textfile collector)",
		},
	}
}
