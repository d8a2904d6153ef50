// Package batch implements the resilient batch-analysis pipeline: transport
// selection by payload size, a deadline race against the analysis call, one
// automatic fallback retry on timeout, and exactly one terminal completion
// per job.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"camlink/internal/analysis"
	"camlink/internal/logging"
)

// Transport identifies which channel served a job.
type Transport string

const (
	TransportPrimary  Transport = "primary"
	TransportFallback Transport = "fallback"
)

const (
	// DefaultPayloadCeiling is the hard size threshold above which the
	// primary real-time channel must not be used.
	DefaultPayloadCeiling = 10 * 1024 * 1024
	// DefaultDeadline bounds one submission attempt.
	DefaultDeadline = 5 * time.Minute
)

// ErrNoFrames is returned for an empty input set.
var ErrNoFrames = errors.New("no frames provided for batch analysis")

// ErrTimeout is the terminal error when both the deadline and the fallback
// retry have been exhausted.
var ErrTimeout = errors.New("batch analysis timed out")

// Submitter sends a batch of frames over one transport and blocks until the
// full report is available.
type Submitter interface {
	Submit(ctx context.Context, frames []string) (string, error)
	Available() bool
}

// SubmitterFunc adapts a function to the Submitter interface. It always
// reports itself available.
type SubmitterFunc func(ctx context.Context, frames []string) (string, error)

func (f SubmitterFunc) Submit(ctx context.Context, frames []string) (string, error) {
	return f(ctx, frames)
}

func (f SubmitterFunc) Available() bool { return true }

// Result is the single terminal outcome of a job.
type Result struct {
	Report     string
	FrameCount int
	Transport  Transport
	TimedOut   bool
	Err        error
}

// Pipeline orchestrates batch jobs. Consumers receive the same Result shape
// regardless of which transport served them.
type Pipeline struct {
	primary  Submitter
	fallback Submitter
	ceiling  int
	deadline time.Duration
	progress analysis.ProgressFunc
	log      *logging.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPayloadCeiling overrides the primary-transport size threshold in bytes.
func WithPayloadCeiling(bytes int) Option {
	return func(p *Pipeline) {
		if bytes > 0 {
			p.ceiling = bytes
		}
	}
}

// WithDeadline overrides the per-attempt deadline.
func WithDeadline(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.deadline = d
		}
	}
}

// WithProgress installs a best-effort progress sink.
func WithProgress(fn analysis.ProgressFunc) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// New creates a pipeline over a primary and a fallback transport.
func New(primary, fallback Submitter, log *logging.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		primary:  primary,
		fallback: fallback,
		ceiling:  DefaultPayloadCeiling,
		deadline: DefaultDeadline,
		log:      log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one job to its single terminal outcome. Outstanding work on a
// lost race is left to finish on its own; its completion is discarded.
func (p *Pipeline) Run(ctx context.Context, frames []string) Result {
	n := len(frames)
	if n == 0 {
		return Result{Err: ErrNoFrames}
	}

	p.emit(analysis.Progress{
		Stage:      analysis.StageInitializing,
		Message:    fmt.Sprintf("Preparing %d frames for analysis...", n),
		TotalCount: n,
	})

	transport := p.selectTransport(frames)

	if transport == TransportFallback {
		report, err := p.submit(ctx, p.fallback, frames)
		return p.finish(Result{Report: report, FrameCount: n, Transport: TransportFallback, Err: err}, n)
	}

	// Primary path, raced against the deadline. The race is the canonical
	// cancellation mechanism: whichever side loses gets discarded.
	type outcome struct {
		report string
		err    error
	}
	var primaryLost atomic.Bool
	resultCh := make(chan outcome, 1)

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		report, err := p.primary.Submit(attemptCtx, frames)
		if primaryLost.Load() {
			p.log.Warn("discarding late primary batch completion")
			return
		}
		resultCh <- outcome{report, err}
	}()

	p.emit(analysis.Progress{
		Stage:          analysis.StageAnalyzing,
		Message:        fmt.Sprintf("Analyzing %d frames over the primary channel...", n),
		TotalCount:     n,
		ProcessedCount: n,
	})

	timer := time.NewTimer(p.deadline)
	defer timer.Stop()

	select {
	case out := <-resultCh:
		return p.finish(Result{Report: out.report, FrameCount: n, Transport: TransportPrimary, Err: out.err}, n)
	case <-ctx.Done():
		primaryLost.Store(true)
		return p.finish(Result{FrameCount: n, Transport: TransportPrimary, Err: ctx.Err()}, n)
	case <-timer.C:
		// Deadline expired: close the primary lane, then retry exactly
		// once over the fallback transport.
		primaryLost.Store(true)
		p.emit(analysis.Progress{
			Stage:          analysis.StageError,
			Message:        "Primary analysis timed out; retrying over fallback transport...",
			TotalCount:     n,
			ProcessedCount: n,
		})
		p.log.Warnf("batch of %d frames timed out after %s, retrying via fallback", n, p.deadline)

		report, err := p.submit(ctx, p.fallback, frames)
		if err != nil {
			err = fmt.Errorf("%w: fallback retry failed: %v", ErrTimeout, err)
		}
		return p.finish(Result{Report: report, FrameCount: n, Transport: TransportFallback, TimedOut: true, Err: err}, n)
	}
}

// selectTransport routes oversized payloads and dead primary channels to the
// fallback transport before any submission is attempted.
func (p *Pipeline) selectTransport(frames []string) Transport {
	total := 0
	for _, f := range frames {
		total += len(f)
	}
	if total > p.ceiling {
		p.log.Infof("payload %d bytes exceeds ceiling %d, routing to fallback transport", total, p.ceiling)
		return TransportFallback
	}
	if p.primary == nil || !p.primary.Available() {
		return TransportFallback
	}
	return TransportPrimary
}

// submit runs one fallback attempt under its own deadline.
func (p *Pipeline) submit(ctx context.Context, s Submitter, frames []string) (string, error) {
	if s == nil {
		return "", errors.New("fallback transport not configured")
	}
	p.emit(analysis.Progress{
		Stage:          analysis.StageAnalyzing,
		Message:        fmt.Sprintf("Analyzing %d frames over the fallback transport...", len(frames)),
		TotalCount:     len(frames),
		ProcessedCount: len(frames),
	})
	attemptCtx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()
	return s.Submit(attemptCtx, frames)
}

// finish emits the terminal progress event and returns the job's one Result.
func (p *Pipeline) finish(r Result, n int) Result {
	if r.Err != nil {
		p.emit(analysis.Progress{
			Stage:          analysis.StageError,
			Message:        r.Err.Error(),
			TotalCount:     n,
			ProcessedCount: n,
		})
		return r
	}
	p.emit(analysis.Progress{
		Stage:          analysis.StageFinalizing,
		Message:        "Analysis complete.",
		TotalCount:     n,
		ProcessedCount: n,
	})
	return r
}

func (p *Pipeline) emit(progress analysis.Progress) {
	if p.progress != nil {
		p.progress(progress)
	}
}
