// Package pipeline provides the real-time fatigue session that
// orchestrates Layers 1-5.
//
// This package is the composition root: it imports from the layer
// packages (l1landmarks, l2metrics, l3events, l4rates, l5score) but none
// of those packages import pipeline/. Adapters (journal, publisher, HTTP,
// plots) attach through the Notifier, FrameObserver and CycleObserver
// interfaces.
package pipeline
