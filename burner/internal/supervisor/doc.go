// Package supervisor runs one burn: it launches a worker per device, watches
// their progress frames and the telemetry stream, and tears everything down.
//
// Run phases:
//
//	Launching   spawn the workers. Without an explicit device the bootstrap
//	            worker (device 0) is spawned first and its device count read
//	            before the others are started.
//	Monitoring  one select over the merged frame events, telemetry readings,
//	            the budget deadline and ctx. Slot state is only touched here.
//	Draining    SIGKILL every worker, stop telemetry, reap every child.
//
// One goroutine per worker channel decodes frames and forwards them; a
// worker that dies or whose channel breaks is marked Dead and stops
// contributing, but the run continues while at least one slot is alive. When
// every slot is Dead the run aborts early with ErrAllWorkersDead.
//
// The Spawner interface decouples process management from the loop.
// ExecSpawner starts real processes with the channel on fd 3; FuncSpawner
// runs workers as goroutines over io.Pipe and is used by tests.
package supervisor
