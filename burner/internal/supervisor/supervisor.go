package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/obsidianstack/gpuburn/burner/internal/config"
	"github.com/obsidianstack/gpuburn/burner/internal/logging"
	"github.com/obsidianstack/gpuburn/burner/internal/protocol"
	"github.com/obsidianstack/gpuburn/burner/internal/telemetry"
	"github.com/obsidianstack/gpuburn/pkg/types"
)

var (
	// ErrNoDevices is returned when the bootstrap worker reports zero devices.
	ErrNoDevices = errors.New("supervisor: no devices found")

	// ErrHandshake is returned when the bootstrap worker does not deliver
	// its device count.
	ErrHandshake = errors.New("supervisor: bootstrap handshake failed")

	// ErrLaunch is returned when a worker process cannot be started.
	ErrLaunch = errors.New("supervisor: worker launch failed")

	// ErrAllWorkersDead is returned when every slot died before the budget
	// elapsed.
	ErrAllWorkersDead = errors.New("supervisor: no workers are alive")
)

// DefaultHandshakeTimeout bounds the wait for the bootstrap device count.
// Driver initialisation on a large node can take tens of seconds.
const DefaultHandshakeTimeout = 2 * time.Minute

// progressMarks is the number of progress marks per run; windowed error
// counters reset at each one.
const progressMarks = 10

// Options configures a Supervisor.
type Options struct {
	// Budget is how long the monitoring phase lasts.
	Budget time.Duration

	// Device selects one device index, or config.AllDevices to discover
	// devices through the bootstrap worker.
	Device int

	// OpsPerIteration converts reported iterations into flops.
	OpsPerIteration float64

	Spawner Spawner

	// Sampler is the temperature source; nil runs without temperatures.
	Sampler telemetry.Sampler

	HandshakeTimeout time.Duration

	// RunID tags published snapshots.
	RunID string

	// Now is the clock used for throughput and progress. Defaults to
	// time.Now.
	Now func() time.Time

	// OnProgress receives a snapshot after every update. It is called from
	// the supervising goroutine and must not block for long.
	OnProgress func(types.Snapshot)
}

// Result is what a finished run hands to diagnosis and reporting.
type Result struct {
	// Snapshot is the final state of every slot, exit codes included.
	Snapshot types.Snapshot

	// Slots are detached copies of the final slot state.
	Slots []Slot

	// Interrupted is true when ctx was cancelled before the budget elapsed.
	Interrupted bool
}

type frameEvent struct {
	slot  int
	frame protocol.Frame
	err   error
}

// Supervisor runs one burn. A Supervisor is single-use.
type Supervisor struct {
	opts Options

	slots        []*Slot
	slotByDevice map[int]int
	tracker      *telemetry.Tracker

	phase   types.Phase
	started time.Time

	events    chan frameEvent
	stop      chan struct{}
	readers   sync.WaitGroup
	drainOnce sync.Once
}

// New returns a Supervisor for opts.
func New(opts Options) *Supervisor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.OpsPerIteration <= 0 {
		opts.OpsPerIteration = config.DefaultOpsPerIteration
	}
	return &Supervisor{
		opts:         opts,
		slotByDevice: make(map[int]int),
		stop:         make(chan struct{}),
	}
}

// Run launches the workers, monitors them until the budget elapses, ctx is
// cancelled, or every worker is dead, then drains. The returned Result is
// non-nil whenever at least the launch phase completed, and is always fully
// drained: no worker or telemetry process outlives Run.
//
// A cancelled run returns ctx.Err() alongside the partial Result.
func (s *Supervisor) Run(ctx context.Context) (*Result, error) {
	if s.opts.Spawner == nil {
		return nil, fmt.Errorf("%w: no spawner", ErrLaunch)
	}
	if s.opts.Budget <= 0 {
		return nil, errors.New("supervisor: budget must be positive")
	}

	s.phase = types.PhaseLaunching
	s.started = s.opts.Now()
	if err := s.launch(ctx); err != nil {
		s.drain()
		if ctx.Err() != nil {
			return s.result(true), ctx.Err()
		}
		return s.result(false), err
	}

	s.tracker = telemetry.NewTracker(len(s.slots))
	readings := s.startTelemetry(ctx)

	s.events = make(chan frameEvent, 4*len(s.slots))
	for _, slot := range s.slots {
		s.readers.Add(1)
		go s.read(slot.Index, slot.worker)
	}

	err := s.monitor(ctx, readings)
	s.drain()

	interrupted := ctx.Err() != nil && !errors.Is(err, ErrAllWorkersDead)
	return s.result(interrupted), err
}

func (s *Supervisor) launch(ctx context.Context) error {
	if s.opts.Device >= 0 {
		_, err := s.spawn(ctx, WorkerSpec{Device: s.opts.Device})
		return err
	}

	boot, err := s.spawn(ctx, WorkerSpec{Device: 0, Bootstrap: true})
	if err != nil {
		return err
	}
	n, err := s.handshake(ctx, boot.worker)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if n == 0 {
		return ErrNoDevices
	}
	slog.Info("supervisor: burning devices", "count", n)

	for i := 1; i < n; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.spawn(ctx, WorkerSpec{Device: i}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supervisor) spawn(ctx context.Context, spec WorkerSpec) (*Slot, error) {
	slot := newSlot(len(s.slots), spec.Device, s.opts.Now())
	w, err := s.opts.Spawner.Spawn(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("%w: device %d: %v", ErrLaunch, spec.Device, err)
	}
	slot.worker = w
	slot.State = StateRunning
	s.slots = append(s.slots, slot)
	s.slotByDevice[spec.Device] = slot.Index
	return slot, nil
}

// handshake reads the bootstrap device count. A worker that misses the
// deadline or outlives ctx is killed so the pending read returns.
func (s *Supervisor) handshake(ctx context.Context, w Worker) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := protocol.ReadDeviceCount(w.Channel())
		done <- result{n, err}
	}()

	timer := time.NewTimer(s.opts.HandshakeTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.n, r.err
	case <-timer.C:
		_ = w.Kill()
		<-done
		return 0, fmt.Errorf("no device count within %s", s.opts.HandshakeTimeout)
	case <-ctx.Done():
		_ = w.Kill()
		<-done
		return 0, ctx.Err()
	}
}

func (s *Supervisor) startTelemetry(ctx context.Context) <-chan telemetry.Reading {
	if s.opts.Sampler == nil {
		return nil
	}
	ch, err := s.opts.Sampler.Start(ctx)
	if err != nil {
		slog.Warn("supervisor: telemetry unavailable, temperatures stay unknown", "err", err)
		return nil
	}
	return ch
}

// read forwards every frame of one worker channel until the slot dies.
func (s *Supervisor) read(slot int, w Worker) {
	defer s.readers.Done()
	r := protocol.NewReader(w.Channel())
	for {
		f, err := r.Next()
		select {
		case s.events <- frameEvent{slot: slot, frame: f, err: err}:
		case <-s.stop:
			return
		}
		if f.Dead() {
			return
		}
	}
}

func (s *Supervisor) monitor(ctx context.Context, readings <-chan telemetry.Reading) error {
	s.phase = types.PhaseMonitoring
	s.started = s.opts.Now()
	for _, slot := range s.slots {
		slot.LastFrame = s.started
	}

	deadline := time.NewTimer(s.opts.Budget)
	defer deadline.Stop()

	window := s.opts.Budget / progressMarks
	nextMark := window

	for {
		if err := ctx.Err(); err != nil {
			slog.Warn("supervisor: interrupted, stopping workers")
			return err
		}

		select {
		case <-ctx.Done():
			continue

		case <-deadline.C:
			slog.Info("supervisor: time budget elapsed", "budget", s.opts.Budget)
			return nil

		case r, ok := <-readings:
			if !ok {
				readings = nil
				continue
			}
			s.applyReading(r)
			continue

		case ev := <-s.events:
			s.applyFrame(ev)
		}

		now := s.opts.Now()
		snap := s.snapshot(now)
		if s.opts.OnProgress != nil {
			s.opts.OnProgress(snap)
		}
		if elapsed := now.Sub(s.started); elapsed >= nextMark {
			logProgress(ctx, snap)
			for _, slot := range s.slots {
				slot.WindowErrors = 0
			}
			nextMark = elapsed + window
		}

		if s.allDead() {
			slog.Error("supervisor: no workers are alive, aborting")
			return ErrAllWorkersDead
		}
	}
}

func (s *Supervisor) applyFrame(ev frameEvent) {
	slot := s.slots[ev.slot]
	if !slot.Apply(ev.frame, s.opts.Now(), s.opts.OpsPerIteration) {
		return
	}
	attrs := []any{"device", slot.Device, "processed", slot.Processed}
	if ev.err != nil {
		attrs = append(attrs, "err", ev.err)
	}
	if !slot.EverReported {
		slog.Error("supervisor: worker died before reporting", attrs...)
		return
	}
	slog.Warn("supervisor: worker died", attrs...)
}

func (s *Supervisor) applyReading(r telemetry.Reading) {
	if r.Device != telemetry.Unlabelled {
		idx, ok := s.slotByDevice[r.Device]
		if !ok {
			return
		}
		r.Device = idx
	}
	idx, ok := s.tracker.Apply(r)
	if !ok {
		return
	}
	slot := s.slots[idx]
	slot.Temperature, slot.TemperatureKnown = s.tracker.Temperature(idx)
}

func (s *Supervisor) allDead() bool {
	for _, slot := range s.slots {
		if slot.State != StateDead {
			return false
		}
	}
	return true
}

// drain kills every worker and the telemetry source, then reaps them all.
func (s *Supervisor) drain() {
	s.drainOnce.Do(func() {
		s.phase = types.PhaseDraining
		close(s.stop)

		slog.Log(context.Background(), logging.LevelVerbose, "supervisor: killing workers with SIGKILL")
		for _, slot := range s.slots {
			if err := slot.worker.Kill(); err != nil {
				slog.Warn("supervisor: kill failed", "device", slot.Device, "err", err)
			}
		}
		if s.opts.Sampler != nil {
			s.opts.Sampler.Stop()
		}
		for _, slot := range s.slots {
			code, err := slot.worker.Wait()
			if err != nil {
				slog.Warn("supervisor: reap failed", "device", slot.Device, "err", err)
			}
			slot.ExitCode = &code
			if slot.State == StateDead && code > 0 {
				slog.Info("supervisor: worker exit status", "device", slot.Device, "code", code)
			}
		}
		s.readers.Wait()
		slog.Log(context.Background(), logging.LevelVerbose, "supervisor: all workers reaped")
	})
}

func (s *Supervisor) snapshot(now time.Time) types.Snapshot {
	elapsed := now.Sub(s.started)
	pct := 100 * elapsed.Seconds() / s.opts.Budget.Seconds()
	snap := types.Snapshot{
		RunID:       s.opts.RunID,
		Phase:       s.phase,
		StartedAt:   s.started,
		Budget:      s.opts.Budget,
		Elapsed:     elapsed,
		ProgressPct: min(max(pct, 0), 100),
		Devices:     make([]types.DeviceStatus, len(s.slots)),
		GeneratedAt: now,
	}
	for i, slot := range s.slots {
		snap.Devices[i] = slot.Status()
	}
	return snap
}

func (s *Supervisor) result(interrupted bool) *Result {
	snap := s.snapshot(s.opts.Now())
	snap.Phase = types.PhaseReported
	res := &Result{
		Snapshot:    snap,
		Slots:       make([]Slot, len(s.slots)),
		Interrupted: interrupted,
	}
	for i, slot := range s.slots {
		res.Slots[i] = *slot
		res.Slots[i].worker = nil
	}
	return res
}

// tempLabel renders a slot temperature for the progress line; "N/A" while
// no reading has been attributed to the slot.
func tempLabel(d types.DeviceStatus) string {
	if !d.TemperatureKnown {
		return "N/A"
	}
	return strconv.Itoa(d.TemperatureC)
}

func logProgress(ctx context.Context, snap types.Snapshot) {
	n := len(snap.Devices)
	processed := make([]int64, n)
	gflops := make([]float64, n)
	windowErrs := make([]int64, n)
	temps := make([]string, n)
	var dead []int
	for i, d := range snap.Devices {
		processed[i] = d.Processed
		gflops[i] = d.Gflops
		windowErrs[i] = d.WindowErrors
		temps[i] = tempLabel(d)
		if !d.Alive() {
			dead = append(dead, d.Index)
		}
	}
	slog.Log(ctx, logging.LevelVerbose, "supervisor: progress",
		"progress_pct", fmt.Sprintf("%.1f", snap.ProgressPct),
		"processed", processed,
		"gflops", gflops,
		"new_errors", windowErrs,
		"temps_c", temps,
		"dead", dead,
	)
}
