// Package fatigue is the root of the driver-fatigue data model.
//
// Observations flow through five layers, each in its own package:
//
//	l1landmarks  68-point facial landmarks and the frame wire format
//	l2metrics    per-frame geometry: eye/mouth aspect ratios, head pose
//	l3events     debounced blink/yawn/nod/absence events and lifetime totals
//	l4rates      per-window event rates
//	l5score      bounded fatigue score, severity and alerts
//
// Dependency rule: layer N may import layers below N only. Orchestration
// (goroutines, locking, notification fan-out) lives in package pipeline,
// and transports live outside this tree.
package fatigue
