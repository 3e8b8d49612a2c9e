// Package l3events owns Layer 3 (Events) of the fatigue data model.
//
// Responsibilities: turning per-frame metrics into discrete, debounced
// events (blink, yawn, nod, face absence) and keeping their monotonic
// lifetime totals.
// Key types: Rule, RunState, Detector, EventTotals, Event.
//
// Dependency rule: L3 may depend on L1-L2, but never on L4+.
// Detector is not safe for concurrent use; the pipeline serialises access.
package l3events
