// Package stats holds the pure statistics used to judge device throughput.
//
// Median(xs) returns the middle of a sample (mean of the two central values
// for even counts) and fails with ErrEmptySample on an empty sample.
//
// IQRLowerBound(xs, window) returns Q1 - window*IQR, the cut-off below which a
// device's Gflop/s is considered anomalously low compared to its peers.
// Degenerate samples are handled without error: 0 elements → 0, 1 element →
// that element, 2 elements → the smaller one.
//
// Neither function mutates its input.
package stats
