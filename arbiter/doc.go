// Package arbiter implements active-device arbitration for a Bluetooth host
// stack: it ingests connect/disconnect/active-changed events from the per
// profile subsystems (A2DP, HFP, hearing aid, LE audio, LE hearing aid),
// keeps one consistent "active device" assignment per family, and enforces
// the mutual-exclusion rules between the families.
//
// All state is owned by a single worker goroutine; inbound callbacks are
// marshaled onto its task queue, so no two arbitration decisions ever
// interleave. Activation commands to collaborators are fire-and-forget; their
// confirmations re-enter through the same queued callback path.
package arbiter
