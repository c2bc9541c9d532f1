// Package errors classifies pipeline failures.
//
// # Classes
//
//   - Transient: broker disconnects, storage timeouts. Retried or reconnected.
//   - Invalid: malformed or out-of-range telemetry. Dropped and logged.
//   - Fatal: bad configuration. The process exits before starting.
//
// # Wrapping
//
// All wrapping follows the format
//
//	"component.method: action failed: %w"
//
// and the classified variants attach the class so callers can branch
// without matching strings:
//
//	errors.WrapTransient(err, "Connector", "connect", "dial broker")
//	errors.WrapInvalid(err, "Decoder", "Decode", "validate reading")
//	errors.WrapFatal(err, "Config", "Validate", "check thresholds")
//
// Classification survives errors.Is and errors.As through further wrapping.
package errors
