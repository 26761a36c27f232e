package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/quanta/internal/logger"
	"github.com/samcharles93/quanta/internal/safetensors"
	"github.com/samcharles93/quanta/pkg/quant"
)

type tensorDiff struct {
	Name string `json:"name"`
	quant.Diff
}

func diffCmd() *cli.Command {
	var asJSON bool

	return &cli.Command{
		Name:      "diff",
		Usage:     "Compare the tensors two safetensors checkpoints have in common",
		ArgsUsage: "<reference.safetensors> <candidate.safetensors>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the comparison as JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if cmd.Args().Len() != 2 {
				return fmt.Errorf("diff: expected 2 checkpoints, got %d", cmd.Args().Len())
			}
			ref, err := safetensors.Open(cmd.Args().Get(0))
			if err != nil {
				return err
			}
			cand, err := safetensors.Open(cmd.Args().Get(1))
			if err != nil {
				return err
			}

			var (
				rows    []tensorDiff
				summary quant.DiffSummary
				missing []string
			)
			for _, name := range ref.Names() {
				if _, ok := cand.Tensor(name); !ok {
					missing = append(missing, name)
					continue
				}
				a, err := ref.Load(name)
				if err != nil {
					return err
				}
				b, err := cand.Load(name)
				if err != nil {
					return err
				}
				d, err := quant.Compare(a, b)
				if err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				rows = append(rows, tensorDiff{Name: name, Diff: d})
				summary.Add(d)
			}
			if len(missing) > 0 {
				log.Warn("tensors missing from candidate", "count", len(missing), "names", missing)
			}
			sort.Slice(rows, func(i, j int) bool { return rows[i].MSE > rows[j].MSE })

			w := outWriter(cmd)
			if asJSON {
				b, err := json.Marshal(struct {
					Tensors []tensorDiff      `json:"tensors"`
					Summary quant.DiffSummary `json:"summary"`
					Missing []string          `json:"missing,omitempty"`
				}{rows, summary, missing})
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(w, string(b))
				return err
			}

			table := newTable(w)
			table.SetHeader([]string{"TENSOR", "N", "MAX ABS", "MEAN ABS", "RMSE", "COSINE"})
			for _, r := range rows {
				table.Append([]string{
					r.Name,
					strconv.Itoa(r.N),
					strconv.FormatFloat(r.MaxAbs, 'g', 4, 64),
					strconv.FormatFloat(r.MeanAbs, 'g', 4, 64),
					strconv.FormatFloat(r.RMSE, 'g', 4, 64),
					strconv.FormatFloat(r.Cosine, 'f', 6, 64),
				})
			}
			table.SetFooter([]string{
				fmt.Sprintf("%d tensors", summary.Tensors),
				strconv.Itoa(summary.N),
				strconv.FormatFloat(summary.MaxAbs, 'g', 4, 64),
				"",
				strconv.FormatFloat(summary.MSE, 'g', 4, 64) + " (mse)",
				strconv.FormatFloat(summary.MinCosine, 'f', 6, 64) + " (min)",
			})
			table.Render()
			return nil
		},
	}
}
