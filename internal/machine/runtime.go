package machine

// runtime.go drives the guest: a single-threaded cooperative loop that
// steps the CPU in batches, delivers the 60 Hz timer interrupt, and
// yields to the caller so it can poll host I/O between batches. The
// shape -- a Run loop with a cancellable context and a bounded amount of
// work per iteration -- follows the teacher's own instruction-cycle
// driver, generalized from a six-stage pipeline over one instruction to
// a batch of instructions bounded by wall-clock ticks rather than by
// pipeline stage.

import (
	"context"
	"time"

	"github.com/mpmhost/mpmhost/internal/log"
)

// TickInterval is the guest timer period: 16,667 microseconds, ~60 Hz.
const TickInterval = 16_667 * time.Microsecond

// ClockWarmupInstructions is the heuristic after which the runtime
// force-enables the tick clock even if the guest never called
// start-clock. This is a workaround carried over unchanged: guests that
// are slow to reach their own clock-enable call would otherwise run
// unpreemptible for an unbounded time.
const ClockWarmupInstructions = 5_000_000

// BatchSize bounds how many guest instructions Run executes before
// returning control to its caller, so the caller's host-I/O polling loop
// runs at a bounded latency even when the guest never halts.
const BatchSize = 10_000

// Runtime drives one guest: CPU stepping and tick delivery are serialized
// onto the single goroutine that calls Run. Run does not poll the bridge;
// bridge requests reach the guest through XIOS's bridge function codes.
type Runtime struct {
	cpu    CPU
	xios   *XIOS
	bridge *Bridge

	deadline     time.Time
	instructions int64

	log *log.Logger
}

// RuntimeOption configures a Runtime at construction.
type RuntimeOption func(*Runtime)

// WithRuntimeLogger attaches a logger to a Runtime.
func WithRuntimeLogger(logger *log.Logger) RuntimeOption {
	return func(r *Runtime) { r.log = logger }
}

// NewRuntime constructs a Runtime bound to a CPU, the XIOS dispatcher
// servicing it, and a bridge. The bridge is stored but not polled by
// RunBatch or Run.
func NewRuntime(cpu CPU, xios *XIOS, bridge *Bridge, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		cpu:      cpu,
		xios:     xios,
		bridge:   bridge,
		deadline: monotonicNow().Add(TickInterval),
		log:      log.DefaultLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// monotonicNow exists so Run's timing logic reads as ordinary calls to
// time.Now throughout; it is not a seam for test injection, since
// time.Now already returns monotonic readings on every supported
// platform.
func monotonicNow() time.Time { return time.Now() }

// RunBatch executes step 2-5 of the runtime loop once: it advances the
// tick deadline and requests Restart1 if it has passed, applies the
// warm-up heuristic, and then executes guest instructions up to
// BatchSize, stopping early if the guest halts. It returns the number of
// instructions executed and any catastrophic error XIOS raised.
func (r *Runtime) RunBatch() (int, error) {
	now := monotonicNow()

	if !now.Before(r.deadline) {
		r.deadline = r.deadline.Add(TickInterval)

		if r.xios.ClockEnabled() {
			r.cpu.RequestInterrupt(Restart1)
		}
	}

	if r.instructions >= ClockWarmupInstructions && !r.xios.ClockEnabled() {
		r.xios.ForceEnableClock()
	}

	executed := 0

	for executed < BatchSize {
		if r.xios.Err() != nil {
			return executed, r.xios.Err()
		}

		if r.cpu.Halted() {
			break
		}

		if err := r.cpu.Step(); err != nil {
			return executed, err
		}

		executed++
		r.instructions++
	}

	return executed, nil
}

// Run repeatedly calls RunBatch, returning control to the scheduler
// between batches. The caller -- typically an errgroup goroutine paired
// with one polling the terminal server and the host bridge -- is
// expected to interleave this with that polling; Run itself only steps
// the guest. Run returns when ctx is canceled or a catastrophic error
// occurs.
func (r *Runtime) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		default:
		}

		if _, err := r.RunBatch(); err != nil {
			return err
		}
	}
}
