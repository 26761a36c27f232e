package api

import "github.com/samcharles93/quanta/internal/nn"

// QuantizeRequest is the body of POST /v1/quantize. Shape defaults to a
// vector of len(Values).
type QuantizeRequest struct {
	Values    []float32 `json:"values"`
	Shape     []int     `json:"shape,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	Bits      int       `json:"bits,omitempty"`
	Axis      int       `json:"axis,omitempty"`
	GroupSize int       `json:"group_size,omitempty"`
	Policy    string    `json:"policy,omitempty"`
}

// ReplaceRequest is the body of POST /v1/replace. It runs a replacement pass
// over a freshly built demo model and reports the drift on a probe batch.
type ReplaceRequest struct {
	Exclude []string `json:"exclude,omitempty"`
	DType   string   `json:"dtype,omitempty"`
	Policy  string   `json:"policy,omitempty"`
	Seed    *int64   `json:"seed,omitempty"`
}

type ReplaceResponse struct {
	Object string `json:"object"`
	DType  string `json:"dtype"`
	*nn.ReplaceReport
	RelativeDrift float64 `json:"relative_drift"`
}

type ReportSummary struct {
	ID      string  `json:"id"`
	Scheme  string  `json:"scheme"`
	Shape   []int   `json:"shape"`
	MSE     float64 `json:"mse"`
	Created int64   `json:"created_at"`
}

type ReportList struct {
	Object string          `json:"object"`
	Data   []ReportSummary `json:"data"`
}

type DeleteReportResp struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type HealthResp struct {
	Status      string   `json:"status"`
	Version     string   `json:"version"`
	CPUFeatures []string `json:"cpu_features"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}
