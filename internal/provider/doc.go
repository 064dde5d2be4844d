// Package provider owns the scoreprovider process lifecycle.
//
// Ownership boundary:
// - configuration defaults and validation
// - document load and broker resolution (static or mDNS)
// - wiring segment -> delivery -> cycle
// - heartbeat logging and the optional admin HTTP surface
//
// Lifecycle order:
// - bootstrap -> serve -> shutdown
//
// The broker endpoint is resolved once in bootstrap and reused for every
// connection attempt of every cycle.
package provider
