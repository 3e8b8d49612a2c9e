// Package l1landmarks owns Layer 1 (Landmarks) of the fatigue data model.
//
// Responsibilities: the 68-point landmark set (iBUG 300-W numbering),
// anatomical index ranges, and the line-delimited JSON frame format used
// by detectors, replay files and the websocket ingest.
// Key types: Point, LandmarkSet, Frame.
//
// Dependency rule: L1 has no dependencies on other fatigue layers.
package l1landmarks
