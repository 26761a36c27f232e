package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/quanta/internal/logger"
)

// fileConfig is the config file loaded by the root Before hook. Commands
// apply it to any flag the user did not set.
var fileConfig Config

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "quanta",
		Usage: "Linear quantization toolkit and W8A16 layer replacement",
		Flags: append(loggingFlags(),
			&cli.StringFlag{
				Name:        "config",
				Usage:       "config file (default $QUANTA_CONFIG, then $XDG_CONFIG_HOME/quanta/config.yaml)",
				Destination: &configFile,
			},
		),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			quantizeCmd(),
			replaceCmd(),
			diffCmd(),
			serveCmd(),
			versionCmd(),
		},
	}
}

func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig(resolveConfigPath(configFile))
	if err != nil {
		return ctx, err
	}
	if err := cfg.Validate(); err != nil {
		return ctx, fmt.Errorf("config: %w", err)
	}
	fileConfig = cfg
	applyLoggingConfig(cmd, cfg)

	level := logLevel
	if debug {
		level = "debug"
	}
	log, err := logger.Setup(errWriter(cmd), level, logFormat)
	if err != nil {
		return ctx, err
	}
	return logger.WithContext(ctx, log), nil
}

func outWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func errWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
