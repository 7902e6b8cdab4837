// Package protocol implements the worker channel: the binary framing spoken
// between a compute worker and the supervisor over one byte stream.
//
// Wire format, native byte order, no length prefix, no checksum:
//
//	handshake (bootstrap worker only): int32 device_count
//	progress frame:                    int32 processed (>= 0), int32 new_errors (>= 0)
//	death frame:                       int32 -1,             int32 -1
//
// Writers always emit a frame with a single Write so the two fields arrive as
// one unit. Reader.Next treats a short or failed read of the first field as an
// implicit death, so a worker that crashes without a sentinel looks the same
// as one that sent it.
package protocol
