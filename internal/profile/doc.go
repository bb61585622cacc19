// Package profile defines the domain model shared by the arbitration engine:
// peer device identity, audio profile families, connection policy, and the
// collaborator interfaces through which the engine drives the per-family
// profile subsystems.
//
// The engine never talks to a transport. Every profile subsystem (A2DP, HFP,
// hearing aid, LE audio) is abstracted behind a small capability interface so
// the arbiter can iterate families uniformly when enforcing mutual exclusion.
package profile
