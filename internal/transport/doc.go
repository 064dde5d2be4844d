// Package transport owns the provider->broker message channel.
//
// Ownership boundary:
// - broker URL construction
// - websocket dial/send/close
// - failure classification (closed, refused, fatal)
//
// Only ErrClosed and ErrRefused are transient. Callers match them with
// errors.Is or Retryable; every other failure surfaces unclassified.
package transport
