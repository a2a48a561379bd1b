package sampler

import (
	"context"
	"runtime"
	"time"

	"codeberg.org/mutker/cpufreqctl/internal/errors"
)

const (
	defaultIterations = 40_000_000
	defaultRounds     = 5
	minPlausibleMHz   = 100
	maxPlausibleMHz   = 20_000

	// The spin loop retires one iteration per core cycle on current
	// x86-64 and arm64 parts: a single-cycle add chain plus a fused
	// compare-and-branch.
	cyclesPerIteration = 1
)

var spinSink uint64

// Calibrator estimates the effective core clock by timing a fixed amount of
// work. The fastest of several rounds is used so that preemption only ever
// makes a round slower, never faster.
type Calibrator struct {
	Iterations int
	Rounds     int

	spin func(n int)
	now  func() time.Time
}

func NewCalibrator() *Calibrator {
	return &Calibrator{
		Iterations: defaultIterations,
		Rounds:     defaultRounds,
		spin:       spin,
		now:        time.Now,
	}
}

type measurement struct {
	mhz uint64
	err error
}

// Measure runs the calibration on a dedicated OS thread and waits for it,
// giving up early if ctx is done. An abandoned calibration still runs to
// completion in the background.
func (c *Calibrator) Measure(ctx context.Context) (uint64, error) {
	done := make(chan measurement, 1)

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		mhz, err := c.calibrate()
		done <- measurement{mhz: mhz, err: err}
	}()

	select {
	case <-ctx.Done():
		return 0, errors.New().Wrap(ErrCanceled, ctx.Err())
	case m := <-done:
		return m.mhz, m.err
	}
}

func (c *Calibrator) calibrate() (uint64, error) {
	errFactory := errors.New()

	if c.Iterations <= 0 || c.Rounds <= 0 {
		return 0, errFactory.WithData(ErrCalibrationFailed, "iterations and rounds must be positive")
	}

	var best time.Duration
	for i := 0; i < c.Rounds; i++ {
		start := c.now()
		c.spin(c.Iterations)
		elapsed := c.now().Sub(start)

		if elapsed > 0 && (best == 0 || elapsed < best) {
			best = elapsed
		}
	}

	if best <= 0 {
		return 0, errFactory.WithData(ErrCalibrationFailed, "no measurable elapsed time")
	}

	// cycles per nanosecond is GHz
	cycles := uint64(c.Iterations) * cyclesPerIteration
	ns := uint64(best.Nanoseconds())
	mhz := (cycles*1000 + ns/2) / ns
	if mhz < minPlausibleMHz || mhz > maxPlausibleMHz {
		return 0, errFactory.WithData(ErrImplausibleReading, mhz)
	}

	return mhz, nil
}

//go:noinline
func spin(n int) {
	var acc uint64
	for i := 0; i < n; i++ {
		acc += uint64(i)
	}
	spinSink = acc
}
