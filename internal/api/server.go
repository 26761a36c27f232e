// Package api serves quantization over HTTP: one-shot tensor quantization with
// stored reports, a replacement pass over the demo model, health and metrics.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samcharles93/quanta/internal/logger"
	"github.com/samcharles93/quanta/internal/metrics"
	"github.com/samcharles93/quanta/internal/nn"
	"github.com/samcharles93/quanta/internal/tensor"
	"github.com/samcharles93/quanta/internal/toy"
	"github.com/samcharles93/quanta/internal/version"
	"github.com/samcharles93/quanta/pkg/quant"
)

// DefaultDType is the working precision used when a request names none.
const DefaultDType = "bf16"

// probeBatch is the number of rows fed through the demo model to measure drift.
const probeBatch = 4

type Server struct {
	store *ReportStore
	log   logger.Logger
	model toy.Config
	clock func() time.Time
}

func NewServer(store *ReportStore, log logger.Logger) *Server {
	if store == nil {
		store = NewReportStore(DefaultStoreLimit)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		store: store,
		log:   log,
		model: toy.DefaultConfig(),
		clock: time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/quantize", s.handleQuantize)
	e.GET("/v1/reports", s.handleListReports)
	e.GET("/v1/reports/:id", s.handleGetReport)
	e.DELETE("/v1/reports/:id", s.handleDeleteReport)
	e.POST("/v1/replace", s.handleReplace)

	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", func(c *echo.Context) error {
		promhttp.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})
}

func (s *Server) handleQuantize(c *echo.Context) error {
	req, err := decodeJSON[QuantizeRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error(), "")
	}
	if len(req.Values) == 0 {
		return writeBadRequest(c, "values must not be empty", "values")
	}
	shape := req.Shape
	if len(shape) == 0 {
		shape = []int{len(req.Values)}
	}
	t, err := tensor.FromData(req.Values, shape...)
	if err != nil {
		return writeBadRequest(c, err.Error(), "shape")
	}
	mode, err := quant.ParseMode(req.Mode)
	if err != nil {
		return writeBadRequest(c, err.Error(), "mode")
	}
	policy, err := quant.ParsePolicy(req.Policy)
	if err != nil {
		return writeBadRequest(c, err.Error(), "policy")
	}
	scheme, err := quant.NewScheme(quant.Options{
		Mode:      mode,
		Bits:      req.Bits,
		Axis:      req.Axis,
		GroupSize: req.GroupSize,
		Policy:    policy,
	})
	if err != nil {
		return s.writeFailure(c, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	rep, err := quant.Run(scheme, t)
	if err != nil {
		return s.writeFailure(c, err)
	}
	metrics.RecordQuantize(rep.Scheme, rep.MSE, rep.MaxAbsError)
	id := s.store.Create(rep, s.clock())
	s.log.Debug("quantized tensor", "id", id, "scheme", rep.Scheme, "shape", shape, "mse", rep.MSE)
	return c.JSON(http.StatusOK, rep)
}

func (s *Server) handleListReports(c *echo.Context) error {
	return c.JSON(http.StatusOK, ReportList{Object: "list", Data: s.store.List()})
}

func (s *Server) handleGetReport(c *echo.Context) error {
	rec, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "report not found")
	}
	return c.JSON(http.StatusOK, rec.Report)
}

func (s *Server) handleDeleteReport(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "report not found")
	}
	return c.JSON(http.StatusOK, DeleteReportResp{
		ID:      id,
		Object:  "report",
		Deleted: true,
	})
}

func (s *Server) handleReplace(c *echo.Context) error {
	req, err := decodeJSON[ReplaceRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error(), "")
	}
	if req.DType == "" {
		req.DType = DefaultDType
	}
	dtype, err := tensor.ParseDType(req.DType)
	if err != nil {
		return writeBadRequest(c, err.Error(), "dtype")
	}
	policy, err := quant.ParsePolicy(req.Policy)
	if err != nil {
		return writeBadRequest(c, err.Error(), "policy")
	}

	cfg := s.model
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
	model, err := toy.NewModel(cfg)
	if err != nil {
		return s.writeFailure(c, err)
	}
	probe := toy.Probe(probeBatch, cfg.Input, cfg.Seed+1)
	before, err := model.Forward(probe)
	if err != nil {
		return s.writeFailure(c, err)
	}

	rep, err := nn.ReplaceLinear(c.Request().Context(), model, nn.W8A16Factory(dtype, policy), nn.ReplaceOptions{
		Exclude: req.Exclude,
		Logger:  s.log,
	})
	if err != nil {
		return s.writeFailure(c, err)
	}
	after, err := model.Forward(probe)
	if err != nil {
		return s.writeFailure(c, err)
	}
	drift, err := toy.RelativeDrift(before, after)
	if err != nil {
		return s.writeFailure(c, err)
	}
	return c.JSON(http.StatusOK, ReplaceResponse{
		Object:        "replace_report",
		DType:         dtype.String(),
		ReplaceReport: rep,
		RelativeDrift: drift,
	})
}

func (s *Server) handleHealth(c *echo.Context) error {
	info := version.Resolve()
	return c.JSON(http.StatusOK, HealthResp{
		Status:      "ok",
		Version:     info.Version,
		CPUFeatures: info.CPU,
	})
}
