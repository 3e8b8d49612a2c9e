// Package l5score owns Layer 5 (Score) of the fatigue data model.
//
// Responsibilities: folding sampled event rates into the persistent,
// clamped fatigue score, classifying it into severity bands and producing
// alerts on the alert cadence.
// Key types: Severity, Alert, Alerter.
//
// Dependency rule: L5 may depend on L1-L4. Nothing in the fatigue model
// depends on L5.
package l5score
