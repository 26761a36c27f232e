package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/samcharles93/quanta/internal/nn"
	"github.com/samcharles93/quanta/pkg/quant"
)

// maxListed caps how many scales or zero points a summary cell shows.
const maxListed = 8

// renderReport prints the four tensors of a report as grids followed by a
// summary table.
func renderReport(w io.Writer, rep *quant.Report) {
	shape := rep.Original.Shape()
	renderGrid(w, "original", shape, floatCells(rep.Original.Data()))
	renderGrid(w, "quantized", rep.Quantized.Shape, intCells(rep.Quantized.Data))
	renderGrid(w, "dequantized", shape, floatCells(rep.Dequantized.Data()))
	renderGrid(w, "error", shape, floatCells(rep.Error.Data()))

	table := newTable(w)
	table.SetHeader([]string{"SCHEME", "RANGE", "SCALES", "ZERO POINTS", "MSE", "MAX ABS ERROR"})
	table.Append([]string{
		rep.Scheme,
		fmt.Sprintf("[%d, %d]", rep.QMin, rep.QMax),
		listCells(floatCells(rep.Scales)),
		listCells(intCells(rep.ZeroPoints)),
		strconv.FormatFloat(rep.MSE, 'g', 6, 64),
		strconv.FormatFloat(rep.MaxAbsError, 'g', 6, 64),
	})
	table.Render()
}

// renderGrid lays a tensor out as rows of its last dimension.
func renderGrid(w io.Writer, title string, shape []int, cells []string) {
	cols := 1
	if len(shape) > 0 {
		cols = shape[len(shape)-1]
	}
	_, _ = fmt.Fprintf(w, "%s %v\n", title, shape)

	table := newTable(w)
	header := make([]string, cols+1)
	for j := range cols {
		header[j+1] = strconv.Itoa(j)
	}
	table.SetHeader(header)
	for i := 0; i*cols < len(cells); i++ {
		row := make([]string, 0, cols+1)
		row = append(row, strconv.Itoa(i))
		row = append(row, cells[i*cols:(i+1)*cols]...)
		table.Append(row)
	}
	table.Render()
}

func renderReplace(w io.Writer, rep *nn.ReplaceReport) {
	table := newTable(w)
	table.SetHeader([]string{"LAYER", "IN", "OUT", "BIAS", "WEIGHT MSE", "STATUS"})
	for _, l := range rep.Replaced {
		table.Append([]string{
			l.Path,
			strconv.Itoa(l.In),
			strconv.Itoa(l.Out),
			strconv.FormatBool(l.Bias),
			strconv.FormatFloat(l.WeightMSE, 'g', 4, 64),
			"replaced",
		})
	}
	for _, p := range rep.Skipped {
		table.Append([]string{p, "", "", "", "", "excluded"})
	}
	table.Render()
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetAutoFormatHeaders(false)
	return table
}

func floatCells(xs []float32) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = strconv.FormatFloat(float64(x), 'g', 6, 32)
	}
	return out
}

func intCells(xs []int32) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = strconv.FormatInt(int64(x), 10)
	}
	return out
}

func listCells(cells []string) string {
	if len(cells) > maxListed {
		return strings.Join(cells[:maxListed], " ") + fmt.Sprintf(" ... (%d)", len(cells))
	}
	return strings.Join(cells, " ")
}
