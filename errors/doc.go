// Package errors provides standardized error handling for zonewatch components.
//
// # Classification
//
// Every error that crosses a component boundary is one of three classes:
//
//   - Transient: broker timeouts, refused or lost connections, failed publishes (retry)
//   - Invalid: malformed payloads and bad configuration values (drop or reject, never retry)
//   - Fatal: transport setup failures such as unreadable certificates (ends the current attempt)
//
// Fatal is scoped to the operation that produced it. The connection manager still
// retries a connect attempt that failed with a fatal transport setup error, because the
// credential files may be replaced while the process runs.
//
// # Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Use the classified wrappers to attach a class while keeping the chain intact:
//
//	errors.WrapTransient(err, "Manager", "Connect", "dial broker")
//	errors.WrapInvalid(err, "telemetry", "ParseReading", "validate payload")
//	errors.WrapFatal(err, "tlsutil", "LoadClientConfig", "load client certificate")
//
// Domain sentinels (ErrMalformedPayload, ErrConnectionTimeout, ...) are matched with the
// standard library errors.Is through any number of wrapping layers. Join attaches a
// sentinel to a third-party cause so both remain matchable.
package errors
