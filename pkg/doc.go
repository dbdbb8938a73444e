// Package pkg provides shared utilities for the softsdio SDIO slave driver.
//
// This package contains common functionality used by the driver, its DMA
// rings, and the hardware abstraction layers, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for the driver error taxonomy
//   - A compact [Status] code for reporting errors over a byte transport
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with driver-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentRecv, "buffer loaded", "handle", h)
//
// # Errors
//
// Driver errors are sentinel values, wrapped with context and matched with
// [errors.Is]:
//
//	if errors.Is(err, pkg.ErrTimeout) {
//	    // Nothing arrived; retry
//	}
//
// Blocking operations take a [context.Context]. [ContextError] maps an
// expired deadline to [ErrTimeout] and a cancellation to [ErrCancelled].
package pkg
