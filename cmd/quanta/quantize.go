package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/quanta/internal/logger"
	"github.com/samcharles93/quanta/internal/safetensors"
	"github.com/samcharles93/quanta/internal/tensor"
	"github.com/samcharles93/quanta/pkg/quant"
)

func quantizeCmd() *cli.Command {
	var (
		values     string
		shape      string
		weights    string
		tensorName string
		asJSON     bool
		out        string
	)

	return &cli.Command{
		Name:  "quantize",
		Usage: "Quantize a tensor and report the reconstruction error",
		Flags: append(schemeFlags(),
			&cli.StringFlag{
				Name:        "values",
				Usage:       "comma separated tensor values (use --values=-1,2 for a leading minus)",
				Destination: &values,
			},
			&cli.StringFlag{
				Name:        "shape",
				Usage:       "tensor shape, e.g. 2,2 (default: vector)",
				Destination: &shape,
			},
			&cli.StringFlag{
				Name:        "weights",
				Aliases:     []string{"w"},
				Usage:       "safetensors file to read the tensor from",
				Destination: &weights,
			},
			&cli.StringFlag{
				Name:        "tensor",
				Aliases:     []string{"t"},
				Usage:       "tensor name inside --weights",
				Destination: &tensorName,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the report as JSON",
				Destination: &asJSON,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "also write the JSON report to this file",
				Destination: &out,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applySchemeConfig(cmd, fileConfig)

			t, err := inputTensor(values, shape, weights, tensorName)
			if err != nil {
				return err
			}
			scheme, err := newScheme()
			if err != nil {
				return err
			}
			rep, err := quant.Run(scheme, t)
			if err != nil {
				return fmt.Errorf("quantize: %w", err)
			}
			log.Debug("quantized", "scheme", rep.Scheme, "shape", t.Shape(), "mse", rep.MSE)

			if out != "" {
				path, err := prepareOut(out)
				if err != nil {
					return err
				}
				b, err := rep.JSON()
				if err != nil {
					return err
				}
				if err := os.WriteFile(path, b, 0o644); err != nil {
					return err
				}
				log.Info("wrote report", "path", path)
			}

			w := outWriter(cmd)
			if asJSON {
				b, err := rep.JSON()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(w, string(b))
				return err
			}
			renderReport(w, rep)
			return nil
		},
	}
}

func inputTensor(values, shape, weights, name string) (*tensor.Tensor, error) {
	switch {
	case weights != "" && values != "":
		return nil, errors.New("--values and --weights are mutually exclusive")
	case weights != "":
		if name == "" {
			return nil, errors.New("--tensor is required with --weights")
		}
		f, err := safetensors.Open(weights)
		if err != nil {
			return nil, err
		}
		return f.Load(name)
	case values != "":
		data, err := parseFloats(values)
		if err != nil {
			return nil, err
		}
		dims := []int{len(data)}
		if shape != "" {
			if dims, err = parseShape(shape); err != nil {
				return nil, err
			}
		}
		return tensor.FromData(data, dims...)
	default:
		return nil, errors.New("one of --values or --weights is required")
	}
}

func newScheme() (quant.Scheme, error) {
	m, err := quant.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	p, err := quant.ParsePolicy(policy)
	if err != nil {
		return nil, err
	}
	return quant.NewScheme(quant.Options{
		Mode:      m,
		Bits:      int(bits),
		Axis:      int(axis),
		GroupSize: int(groupSize),
		Policy:    p,
	})
}
