// Package health serves the liveness and readiness endpoints of a parley server.
//
// GET /healthz answers 200 whenever the process can serve HTTP. GET /readyz
// answers 200 only while every [Checker] passes, so an orchestrator stops
// routing players to an instance whose scene failed validation or whose
// speech provider is tripped. Both reply with a JSON body:
//
//	{"status":"fail","checks":{"scene":"ok","tts":"fail: circuit open"}}
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/pkg/scene"
)

const (
	statusOK   = "ok"
	statusFail = "fail"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is one named readiness condition. Check returns nil while the
// condition holds and must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
}

// New returns a Handler evaluating checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register mounts both endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: statusOK})
}

// Readyz runs every checker concurrently, each under its own
// [checkTimeout], and answers 503 if any of them fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	outcomes := h.run(r.Context())

	res := result{Status: statusOK, Checks: make(map[string]string, len(outcomes))}
	code := http.StatusOK
	for i, err := range outcomes {
		name := h.checkers[i].Name
		if err != nil {
			res.Checks[name] = statusFail + ": " + err.Error()
			res.Status = statusFail
			code = http.StatusServiceUnavailable
			continue
		}
		res.Checks[name] = statusOK
	}
	writeJSON(w, code, res)
}

// run returns the outcome of each checker, indexed like h.checkers.
func (h *Handler) run(ctx context.Context) []error {
	outcomes := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			outcomes[i] = c.Check(cctx)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// SceneChecker passes while current returns a graph without validation
// issues. It is named "scene".
func SceneChecker(current func() *scene.Graph) Checker {
	return Checker{
		Name: "scene",
		Check: func(context.Context) error {
			g := current()
			if g == nil {
				return errors.New("no scene loaded")
			}
			if g.Err() != nil {
				return fmt.Errorf("scene %q: %d validation issue(s)", g.Meta().ID, len(g.Issues()))
			}
			return nil
		},
	}
}
