package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout bounds all probes of one health request.
const healthCheckTimeout = 2 * time.Second

// HealthProbe checks one dependency the API cannot serve without.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingProbe adapts a Pinger to a HealthProbe.
type PingProbe struct {
	name   string
	pinger Pinger
}

// NewPingProbe creates a probe reported under name.
func NewPingProbe(name string, p Pinger) *PingProbe {
	return &PingProbe{name: name, pinger: p}
}

func (p *PingProbe) Name() string { return p.name }

func (p *PingProbe) Check(ctx context.Context) error { return p.pinger.Ping(ctx) }

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleLiveness reports that the process is serving. It touches no
// dependency.
func (s *Server) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
}

// HandleHealth runs every probe concurrently under a shared timeout. It
// answers 200 when all probes pass and 503 otherwise. A probe that has not
// returned when the timeout fires counts as unhealthy.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if len(s.HealthProbes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]error, len(s.HealthProbes))
	)
	for _, probe := range s.HealthProbes {
		wg.Add(1)
		go func(p HealthProbe) {
			defer wg.Done()
			err := runProbe(ctx, p)
			mu.Lock()
			results[p.Name()] = err
			mu.Unlock()
		}(probe)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()

	resp := healthResponse{Status: "healthy", Components: make(map[string]componentStatus, len(s.HealthProbes))}
	for _, probe := range s.HealthProbes {
		name := probe.Name()
		err, finished := results[name]
		switch {
		case !finished:
			resp.Status = "unhealthy"
			resp.Components[name] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		case err != nil:
			resp.Status = "unhealthy"
			resp.Components[name] = componentStatus{Status: "unhealthy", Message: err.Error()}
		default:
			resp.Components[name] = componentStatus{Status: "healthy"}
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	JSON(w, r, status, resp)
}

func runProbe(ctx context.Context, p HealthProbe) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			err = fmt.Errorf("probe panicked: %v", rvr)
		}
	}()
	return p.Check(ctx)
}
