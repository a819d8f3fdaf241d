package statuscheck

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Pinger models the minimal capability we need from Redis or S3.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Pool reports how busy the thumbnail renderer is.
type Pool interface {
	InFlight() int
	Capacity() int
}

// Checker aggregates readiness of the collaborators around the engine.
type Checker struct {
	redis    Pinger
	s3       Pinger
	renderer Pool
	timeout  time.Duration
}

type Options struct {
	Redis    Pinger // nil when history is disabled
	S3       Pinger // nil when no bucket is configured
	Renderer Pool
	Timeout  time.Duration
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type Summary struct {
	Redis    Status `json:"redis"`
	S3       Status `json:"s3"`
	Renderer Status `json:"renderer"`
}

// Ready reports whether requests can be served. Redis and S3 are optional,
// so only the renderer counts.
func (s Summary) Ready() bool { return s.Renderer.OK }

func New(opts Options) *Checker {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	return &Checker{redis: opts.Redis, s3: opts.S3, renderer: opts.Renderer, timeout: opts.Timeout}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Redis:    c.ping(ctx, c.redis, "history disabled"),
		S3:       c.ping(ctx, c.s3, "bucket not configured"),
		Renderer: c.checkRenderer(),
	}
}

func (c *Checker) ping(ctx context.Context, p Pinger, missing string) Status {
	if p == nil {
		return Status{OK: false, Message: missing}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkRenderer() Status {
	if c.renderer == nil {
		return Status{OK: false, Message: "renderer unavailable"}
	}
	n, limit := c.renderer.InFlight(), c.renderer.Capacity()
	msg := fmt.Sprintf("%d/%d renders in flight", n, limit)
	if n >= limit {
		return Status{OK: true, Message: "saturated, " + msg}
	}
	return Status{OK: true, Message: msg}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
