// Package worker is the compute-worker side of the worker channel.
//
// Run drives a Kernel: it initialises the device, optionally answers the
// bootstrap handshake with the device count, then loops compute/compare/report
// until its context is cancelled. Each report is one progress frame carrying
// the iterations of that batch and the mismatches it found. A kernel failure
// after init is signalled with the death frame.
//
// Run returns ErrInit or ErrRuntime (wrapped) so the process entry point can
// turn them into the worker exit codes the supervisor records at reap.
//
// CPUKernel is the built-in kernel: repeated dense matrix multiplication in
// single or double precision, every result compared with the first.
package worker
