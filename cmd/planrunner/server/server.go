// Package server implements the planrunner HTTP host surface: validate,
// dryrun, run, and resume as JSON endpoints, plus a websocket live-tail of
// a run's evidence events. Grounded on the teacher's own cmd/orchestrator
// echo wiring (setupEcho/setupMiddleware) for the server shell, the pack's
// evalgo-org-eve http/server.go for rate limiting over
// golang.org/x/time/rate, and the teacher's cmd/fanout/server.go for the
// gorilla/websocket upgrade idiom, generalized here from HITL approval
// fan-out to evidence-event fan-out.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/lyzr/planrunner/common/dryrun"
	"github.com/lyzr/planrunner/common/evidence"
	"github.com/lyzr/planrunner/common/logger"
	"github.com/lyzr/planrunner/common/planerr"
	"github.com/lyzr/planrunner/common/planmodel"
	"github.com/lyzr/planrunner/common/registry"
	"github.com/lyzr/planrunner/common/runner"
	"github.com/lyzr/planrunner/common/validate"
)

// Deps are the components the HTTP surface wraps; every field is built by
// the caller (cmd/planrunner/cmds' serve subcommand) exactly as the CLI
// subcommands build theirs, so both surfaces share one Registry/Runner.
type Deps struct {
	Registry     *registry.Registry
	Runner       *runner.PlanRunner
	Evidence     *evidence.Logger
	ResolvePlan  func(planID string) (*planmodel.Plan, bool)
	ConfigHasKey func(path string) bool
	Log          *logger.Logger
}

// Config is the server's own listen/rate-limit configuration, mirroring
// evalgo-org-eve's ServerConfig shape trimmed to what this host needs.
type Config struct {
	Addr            string
	RateLimit       float64 // requests/sec per client IP; 0 disables
	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{Addr: ":8088", RateLimit: 0, ShutdownTimeout: 10 * time.Second}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// New builds the Echo server and registers every route.
func New(d Deps, cfg Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.RateLimit))))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": "planrunner"})
	})

	h := &handlers{d: d}
	e.POST("/plans/:id/validate", h.validate)
	e.POST("/plans/:id/dryrun", h.dryrun)
	e.POST("/plans/:id/runs", h.run)
	e.GET("/plans/:id/runs/:runID", h.runStatus)
	e.POST("/plans/:id/runs/:runID/resume", h.resume)
	e.GET("/plans/:id/runs/:runID/events", h.tailEvents)

	return e
}

// Start runs e until ctx is cancelled, then drains in-flight requests for
// up to cfg.ShutdownTimeout — the same graceful-shutdown shape as
// evalgo-org-eve's StartServer.
func Start(ctx context.Context, e *echo.Echo, cfg Config) error {
	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}

type handlers struct{ d Deps }

func (h *handlers) plan(c echo.Context, idParam string) (*planmodel.Plan, error) {
	id := c.Param(idParam)
	plan, ok := h.d.ResolvePlan(id)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "plan not found: "+id)
	}
	return plan, nil
}

func (h *handlers) validate(c echo.Context) error {
	plan, err := h.plan(c, "id")
	if err != nil {
		return err
	}

	verr := validate.Validate(plan, h.d.Registry, validate.Options{
		ResolveSubflow: h.d.ResolvePlan,
		ConfigHasKey:   h.d.ConfigHasKey,
	})

	if verr == nil {
		return c.JSON(http.StatusOK, map[string]any{"valid": true})
	}
	var ve *planerr.ValidationError
	if errors.As(verr, &ve) {
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{"valid": false, "messages": ve.Messages})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, verr.Error())
}

func (h *handlers) dryrun(c echo.Context) error {
	plan, err := h.plan(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		Vars map[string]any `json:"vars"`
	}
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	result, err := dryrun.Run(plan, h.d.Registry, body.Vars)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, result.Outputs)
}

func (h *handlers) run(c echo.Context) error {
	plan, err := h.plan(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		Vars  map[string]any `json:"vars"`
		RunID string         `json:"run_id"`
	}
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	result, err := h.d.Runner.Run(c.Request().Context(), plan, body.Vars, body.RunID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

// runStatus reports a run's persisted state: pending-UI if suspended, or
// "not found" once it has completed and its snapshot was cleared (spec.md
// §6's GET /plans/:id/runs/:runID).
func (h *handlers) runStatus(c echo.Context) error {
	planID, runID := c.Param("id"), c.Param("runID")
	snap, ok, err := h.d.Runner.GetState(planID, runID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no state for run "+runID+" (finished, or never started)")
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *handlers) resume(c echo.Context) error {
	planID, runID := c.Param("id"), c.Param("runID")
	var body struct {
		UIOutputs map[string]any  `json:"ui_outputs"`
		Patch     json.RawMessage `json:"patch,omitempty"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var result *runner.Result
	var err error
	if len(body.Patch) > 0 {
		result, err = h.d.Runner.ResumeWithPatch(planID, runID, body.Patch)
	} else {
		result, err = h.d.Runner.Resume(planID, runID, body.UIOutputs)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

// tailEvents upgrades to a websocket and streams every Evidence Logger
// Record emitted for (plan, run) from this point forward.
func (h *handlers) tailEvents(c echo.Context) error {
	if h.d.Evidence == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "evidence logger not configured")
	}
	runID := c.Param("runID")

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch := h.d.Evidence.Subscribe(runID)
	defer h.d.Evidence.Unsubscribe(runID, ch)

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case rec, ok := <-ch:
			if !ok {
				return nil
			}
			if err := conn.WriteJSON(rec); err != nil {
				return nil
			}
		}
	}
}
