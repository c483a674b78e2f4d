// Package retry decides what happens to a task after a failed transfer.
//
// Two independent ceilings apply. NetworkTryLimit bounds automatic
// retries of transient transport failures; TaskTryLimit bounds
// re-submissions requested by handler code. A task that passes either
// limit is dropped and recorded by the engine.
//
// Classify maps transport errors to a small set of tags (connect-failure,
// timeout, dns-failure, redirect-limit-exceeded, generic-transport-error).
// A redirect chain longer than RedirectLimit is an ordinary transient
// failure with its own tag.
package retry
