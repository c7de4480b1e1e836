// Package server provides HTTP handlers and server setup for the LLM gateway.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"llmgate/internal/catalog"
	"llmgate/internal/core"
	"llmgate/internal/orchestrator"
	"llmgate/internal/stream"
)

// Handler holds the HTTP handlers.
type Handler struct {
	orch         *orchestrator.Orchestrator
	catalog      *catalog.Catalog
	streamBuffer int
}

// NewHandler creates a handler over the shared orchestrator and catalog.
func NewHandler(orch *orchestrator.Orchestrator, cat *catalog.Catalog, streamBuffer int) *Handler {
	return &Handler{
		orch:         orch,
		catalog:      cat,
		streamBuffer: streamBuffer,
	}
}

// Exchange handles POST /v1/exchange. With "stream": true the response is a
// server-sent event stream of the exchange's event protocol; otherwise the
// final result is returned as a single JSON document. Errors detected before
// the stream starts come back as plain JSON regardless.
func (h *Handler) Exchange(c echo.Context) error {
	var req orchestrator.Request
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewPermanentError("", 0, "invalid request body: "+err.Error(), err))
	}
	if err := req.Validate(); err != nil {
		return handleError(c, err)
	}

	start := time.Now()
	if !req.Stream {
		res, err := h.orch.Run(c.Request().Context(), &req, nil)
		h.observe(res, err, time.Since(start))
		if err != nil {
			return handleError(c, err)
		}
		return c.JSON(http.StatusOK, res)
	}

	sse, err := stream.NewSSEWriter(c.Response())
	if err != nil {
		return handleError(c, core.NewPermanentError("", 0, err.Error(), err))
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	em := stream.NewEmitter(h.streamBuffer)

	type outcome struct {
		res *orchestrator.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.orch.Run(ctx, &req, em)
		done <- outcome{res: res, err: err}
	}()

	for ev := range em.Events() {
		if err := sse.Write(ev); err != nil {
			// Client went away. Cancel the producer and drain so it can
			// finish releasing upstream resources.
			cancel()
			for range em.Events() {
			}
			break
		}
	}

	out := <-done
	h.observe(out.res, out.err, time.Since(start))
	// The failure already went out as a terminal event; nothing more to send.
	return nil
}

// ListModels handles GET /v1/models.
func (h *Handler) ListModels(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"models": h.catalog.List(),
	})
}

// Health handles GET /health.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// observe records exchange metrics from a terminal outcome.
func (h *Handler) observe(res *orchestrator.Result, err error, elapsed time.Duration) {
	exchangeDuration.Observe(elapsed.Seconds())
	if err != nil {
		exchangesTotal.WithLabelValues("failed").Inc()
		exchangeFailures.WithLabelValues(string(core.KindOf(err))).Inc()
		return
	}
	exchangesTotal.WithLabelValues("complete").Inc()
	if n := len(res.Iterations); n > 0 {
		iterationsPerExchange.Observe(float64(res.Iterations[n-1].Index + 1))
	}
	for _, rec := range res.Iterations {
		upstreamLatency.WithLabelValues(rec.Provider).Observe(float64(rec.DurationMs) / 1000)
	}
	failoversTotal.Add(float64(res.Failovers))
	for _, inv := range res.Invocations {
		status := "completed"
		if inv.Error != "" {
			status = "error"
		}
		toolExecutionsTotal.WithLabelValues(status).Inc()
	}
}

// handleError converts gateway errors to appropriate HTTP responses.
func handleError(c echo.Context, err error) error {
	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		return c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
	}

	return c.JSON(http.StatusInternalServerError, map[string]any{
		"error": map[string]any{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
