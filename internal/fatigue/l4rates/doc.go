// Package l4rates owns Layer 4 (Rates) of the fatigue data model.
//
// Responsibilities: turning monotonic event totals into per-second rates
// over fixed sampling windows.
// Key types: RateSnapshot, Sampler.
//
// Dependency rule: L4 may depend on L1-L3, but never on L5.
package l4rates
