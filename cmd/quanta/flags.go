package main

import "github.com/urfave/cli/v3"

var (
	configFile string
	logLevel   string
	logFormat  string
	debug      bool

	bits      int64
	mode      string
	axis      int64
	groupSize int64
	policy    string
	dtype     string
)

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func schemeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "mode",
			Usage:       "quantization mode (affine, symmetric, channel, group)",
			Value:       "affine",
			Destination: &mode,
		},
		&cli.Int64Flag{
			Name:        "bits",
			Aliases:     []string{"b"},
			Usage:       "integer width (2-16)",
			Value:       8,
			Destination: &bits,
		},
		&cli.Int64Flag{
			Name:        "axis",
			Usage:       "channel axis for --mode channel",
			Destination: &axis,
		},
		&cli.Int64Flag{
			Name:        "group-size",
			Usage:       "group length along the last axis for --mode group",
			Destination: &groupSize,
		},
		policyFlag(),
	}
}

func policyFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "policy",
		Usage:       "degenerate range handling (fail, epsilon)",
		Value:       "fail",
		Destination: &policy,
	}
}

func dtypeFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "dtype",
		Usage:       "working precision of replaced layers (f32, f16, bf16)",
		Value:       "bf16",
		Destination: &dtype,
	}
}
