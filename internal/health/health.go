// Package health reports whether a tidehook process can do useful work:
// reach its database and, for the worker, hold live NSQ connections.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nsqio/go-nsq"
)

// checkTimeout bounds each individual check so a hung dependency cannot
// stall the health endpoint past a load balancer's own deadline.
const checkTimeout = 1 * time.Second

// A Check tests one dependency. It returns nil when the dependency is
// usable.
type Check func(ctx context.Context) error

// Status is the JSON body served by the handler.
type Status struct {
	OK     bool              `json:"ok"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Checker aggregates named dependency checks into one HTTP endpoint.
type Checker struct {
	checks []namedCheck
}

type namedCheck struct {
	name  string
	check Check
}

func New() *Checker {
	return &Checker{}
}

// Add registers a named check. Checks run in registration order.
func (c *Checker) Add(name string, check Check) {
	c.checks = append(c.checks, namedCheck{name: name, check: check})
}

// Handler serves 200 with per-check results while every check passes,
// 503 as soon as any check fails.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Checks: make(map[string]string, len(c.checks))}
		for _, nc := range c.checks {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			err := nc.check(ctx)
			cancel()
			if err != nil {
				st.OK = false
				st.Checks[nc.name] = err.Error()
				continue
			}
			st.Checks[nc.name] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		if !st.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}

// Database reports whether the delivery store answers a pool ping.
func Database(pool *pgxpool.Pool) Check {
	return func(ctx context.Context) error {
		return pool.Ping(ctx)
	}
}

// Consumer reports whether the worker's NSQ consumer still holds at
// least one nsqd connection. A worker with zero connections receives no
// deliveries and should be restarted.
func Consumer(consumer *nsq.Consumer) Check {
	return func(ctx context.Context) error {
		if consumer.Stats().Connections == 0 {
			return errors.New("no nsqd connections")
		}
		return nil
	}
}
