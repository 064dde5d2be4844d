// Package delivery sends a pass of fragments to one broker, in order.
//
// Ownership boundary:
// - one fresh connection per fragment
// - retry of the same fragment on transient transport failure
// - inter-fragment pacing
// - in-flight fragment tracking for status reporting
//
// At most one fragment is in flight. A fragment is retried until sent
// (at-least-once on the wire); the cursor never advances past an
// unsent fragment. Non-transient failures end the pass with an error.
package delivery
