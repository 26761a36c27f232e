package main

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/quanta/internal/logger"
	"github.com/samcharles93/quanta/internal/nn"
	"github.com/samcharles93/quanta/internal/safetensors"
	"github.com/samcharles93/quanta/internal/tensor"
	"github.com/samcharles93/quanta/internal/toy"
	"github.com/samcharles93/quanta/pkg/quant"
)

func replaceCmd() *cli.Command {
	var (
		weights    string
		exclude    []string
		save       string
		probeBatch int64
		seed       int64
		asJSON     bool
	)

	return &cli.Command{
		Name:  "replace",
		Usage: "Swap linear layers for W8A16 layers and report the result",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "weights",
				Aliases:     []string{"w"},
				Usage:       "safetensors checkpoint (default: built-in demo model)",
				Destination: &weights,
			},
			&cli.StringSliceFlag{
				Name:        "exclude",
				Aliases:     []string{"x"},
				Usage:       "layer names or dotted paths to keep at full precision",
				Destination: &exclude,
			},
			dtypeFlag(),
			policyFlag(),
			&cli.StringFlag{
				Name:        "save",
				Usage:       "write the reconstructed checkpoint to this safetensors file",
				Destination: &save,
			},
			&cli.Int64Flag{
				Name:        "probe-batch",
				Usage:       "rows fed through the demo model to measure output drift",
				Value:       4,
				Destination: &probeBatch,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "demo model seed",
				Value:       toy.DefaultConfig().Seed,
				Destination: &seed,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the replacement report as JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyReplaceConfig(cmd, fileConfig, &exclude)

			dt, err := tensor.ParseDType(dtype)
			if err != nil {
				return err
			}
			pol, err := quant.ParsePolicy(policy)
			if err != nil {
				return err
			}

			var (
				model *nn.Block
				probe tensor.Mat
			)
			if weights != "" {
				f, err := safetensors.Open(weights)
				if err != nil {
					return err
				}
				if model, err = nn.Load(f); err != nil {
					return fmt.Errorf("load %s: %w", weights, err)
				}
				log.Info("loaded checkpoint", "path", weights, "tensors", len(f.Names()))
			} else {
				cfg := toy.DefaultConfig()
				cfg.Seed = seed
				if model, err = toy.NewModel(cfg); err != nil {
					return err
				}
				if probeBatch > 0 {
					probe = toy.Probe(int(probeBatch), cfg.Input, seed+1)
				}
			}

			var before tensor.Mat
			if probe.Data != nil {
				if before, err = model.Forward(probe); err != nil {
					return err
				}
			}

			start := time.Now()
			rep, err := nn.ReplaceLinear(ctx, model, nn.W8A16Factory(dt, pol), nn.ReplaceOptions{
				Exclude: exclude,
				Logger:  log,
			})
			if err != nil {
				return fmt.Errorf("replace: %w", err)
			}
			log.Info("replacement done",
				"replaced", len(rep.Replaced),
				"skipped", len(rep.Skipped),
				"dtype", dt.String(),
				"took", time.Since(start))

			drift := -1.0
			if probe.Data != nil {
				after, err := model.Forward(probe)
				if err != nil {
					return err
				}
				if drift, err = toy.RelativeDrift(before, after); err != nil {
					return err
				}
			}

			if save != "" {
				path, err := prepareOut(save)
				if err != nil {
					return err
				}
				sd, err := nn.StateDict(model)
				if err != nil {
					return err
				}
				if err := safetensors.Write(path, sd, "F32"); err != nil {
					return err
				}
				log.Info("wrote checkpoint", "path", path, "tensors", len(sd))
			}

			w := outWriter(cmd)
			if asJSON {
				b, err := json.Marshal(struct {
					*nn.ReplaceReport
					DType         string   `json:"dtype"`
					RelativeDrift *float64 `json:"relative_drift,omitempty"`
				}{rep, dt.String(), driftPtr(drift)})
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(w, string(b))
				return err
			}
			renderReplace(w, rep)
			if drift >= 0 {
				_, _ = fmt.Fprintf(w, "relative output drift on probe: %.3g\n", drift)
			}
			return nil
		},
	}
}

func driftPtr(d float64) *float64 {
	if d < 0 {
		return nil
	}
	return &d
}
