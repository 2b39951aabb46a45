// Package api serves the engine over a local HTTP API.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fg-go/internal/fg"
	"fg-go/internal/retention"
)

// Engine is the engine surface the API exposes.
type Engine interface {
	AddTarget(ctx context.Context, path string) (*fg.FreezeTarget, error)
	RemoveTarget(ctx context.Context, id string) error
	FreezeTarget(ctx context.Context, id string) error
	RestoreTarget(ctx context.Context, id string) error
	RecoverTarget(ctx context.Context, id string) error
	GetTarget(id string) (*fg.FreezeTarget, error)
	GetAllTargets() []*fg.FreezeTarget
	Snapshots() ([]*fg.Snapshot, error)
	History(limit int) ([]*fg.Operation, error)
	Events() *fg.EventBus
}

// Cleaner runs an on-demand retention sweep.
type Cleaner interface {
	Sweep(ctx context.Context) (*retention.Report, error)
}

type Options struct {
	Engine  Engine
	Cleaner Cleaner
	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Drives lists candidate roots for GET /api/v1/drives.
	Drives func() []string
	// AccessLog receives one line per request. Nil disables access logging.
	AccessLog io.Writer
	Logger    fg.Logger
	Version   string
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

const (
	DefaultHistoryLimit = 50
	DefaultHeartbeat    = 15 * time.Second
	eventBuffer         = 64
)

// Server owns the fiber app.
type Server struct {
	app  *fiber.App
	opts Options

	closeOnce sync.Once
	closing   chan struct{}
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = fg.NewNopLogger()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}

	s := &Server{opts: opts, closing: make(chan struct{})}
	s.app = fiber.New(fiber.Config{
		AppName:      "fg",
		ErrorHandler: errorHandler,
	})

	s.app.Use(recover.New())
	if opts.AccessLog != nil {
		s.app.Use(fiberlogger.New(fiberlogger.Config{Stream: opts.AccessLog}))
	}

	v1 := s.app.Group("/api/v1")
	v1.Get("/health", s.health)
	v1.Get("/targets", s.listTargets)
	v1.Post("/targets", s.addTarget)
	v1.Get("/targets/:id", s.getTarget)
	v1.Delete("/targets/:id", s.removeTarget)
	v1.Post("/targets/:id/freeze", s.freezeTarget)
	v1.Post("/targets/:id/restore", s.restoreTarget)
	v1.Post("/targets/:id/recover", s.recoverTarget)
	v1.Get("/snapshots", s.listSnapshots)
	v1.Get("/history", s.history)
	v1.Get("/drives", s.drives)
	v1.Post("/cleanup", s.cleanup)
	v1.Get("/events", s.events)

	if opts.Gatherer != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.opts.Logger.Info("api listening", "addr", addr)
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown ends open event streams and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) health(c fiber.Ctx) error {
	return ok(c, fiber.Map{
		"status":  "healthy",
		"version": s.opts.Version,
		"targets": len(s.opts.Engine.GetAllTargets()),
	})
}

func (s *Server) listTargets(c fiber.Ctx) error {
	return ok(c, s.opts.Engine.GetAllTargets())
}

type addTargetRequest struct {
	Path string `json:"path"`
}

func (s *Server) addTarget(c fiber.Ctx) error {
	var req addTargetRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "request body must be JSON with a path field")
	}
	t, err := s.opts.Engine.AddTarget(c.Context(), req.Path)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(Result{OK: true, Data: t})
}

func (s *Server) getTarget(c fiber.Ctx) error {
	t, err := s.opts.Engine.GetTarget(c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, t)
}

func (s *Server) removeTarget(c fiber.Ctx) error {
	if err := s.opts.Engine.RemoveTarget(c.Context(), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return ok(c, nil)
}

// transition runs a blocking engine operation and returns the target afterwards.
func (s *Server) transition(op func(context.Context, string) error) fiber.Handler {
	return func(c fiber.Ctx) error {
		id := c.Params("id")
		if err := op(c.Context(), id); err != nil {
			return fail(c, err)
		}
		t, err := s.opts.Engine.GetTarget(id)
		if err != nil {
			return fail(c, err)
		}
		return ok(c, t)
	}
}

func (s *Server) freezeTarget(c fiber.Ctx) error {
	return s.transition(s.opts.Engine.FreezeTarget)(c)
}

func (s *Server) restoreTarget(c fiber.Ctx) error {
	return s.transition(s.opts.Engine.RestoreTarget)(c)
}

func (s *Server) recoverTarget(c fiber.Ctx) error {
	return s.transition(s.opts.Engine.RecoverTarget)(c)
}

func (s *Server) listSnapshots(c fiber.Ctx) error {
	snaps, err := s.opts.Engine.Snapshots()
	if err != nil {
		return fail(c, err)
	}
	if snaps == nil {
		snaps = []*fg.Snapshot{}
	}
	return ok(c, snaps)
}

func (s *Server) history(c fiber.Ctx) error {
	limit := fiber.Query[int](c, "limit", DefaultHistoryLimit)
	if limit < 0 {
		return badRequest(c, "limit must not be negative")
	}
	ops, err := s.opts.Engine.History(limit)
	if err != nil {
		return fail(c, err)
	}
	if ops == nil {
		ops = []*fg.Operation{}
	}
	return ok(c, ops)
}

func (s *Server) drives(c fiber.Ctx) error {
	if s.opts.Drives == nil {
		return ok(c, []string{})
	}
	return ok(c, s.opts.Drives())
}

func (s *Server) cleanup(c fiber.Ctx) error {
	if s.opts.Cleaner == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(Result{Error: &ErrorBody{Kind: "internal", Message: "cleanup is not configured"}})
	}
	report, err := s.opts.Cleaner.Sweep(c.Context())
	if err != nil && report == nil {
		return fail(c, err)
	}
	if err != nil {
		s.opts.Logger.Warn("cleanup finished with errors", "error", err)
	}
	return ok(c, report)
}

type frame struct {
	kind fg.EventKind
	data []byte
}

// events streams engine events as server-sent events. ?max=N ends the stream after N events.
func (s *Server) events(c fiber.Ctx) error {
	limit := fiber.Query[int](c, "max", 0)

	frames := make(chan frame, eventBuffer)
	unsubscribe := s.opts.Engine.Events().SubscribeAll(func(ev fg.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		select {
		case frames <- frame{kind: ev.Kind(), data: data}:
		default:
			// Slow client; the event is dropped rather than blocking the engine.
		}
	})

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()

		fmt.Fprintf(w, ": connected\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		ticker := time.NewTicker(s.opts.Heartbeat)
		defer ticker.Stop()

		sent := 0
		for {
			select {
			case <-s.closing:
				return
			case <-ticker.C:
				fmt.Fprintf(w, ": ping\n\n")
			case f := <-frames:
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.kind, f.data)
				sent++
			}
			if err := w.Flush(); err != nil {
				return
			}
			if limit > 0 && sent >= limit {
				return
			}
		}
	})
}
