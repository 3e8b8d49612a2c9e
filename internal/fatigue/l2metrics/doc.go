// Package l2metrics owns Layer 2 (Metrics) of the fatigue data model.
//
// Responsibilities: per-frame geometry derived from a landmark set. Eye and
// mouth aspect ratios, head pose by Perspective-n-Point against a generic
// 3D head model, Euler angle decomposition and axis reprojection for
// overlays. Camera intrinsics and distortion live in CameraModel.
// Key types: CameraModel, FrameMetrics, HeadPose.
//
// Dependency rule: L2 may depend on L1 only. Linear algebra is done with
// gonum; there is no OpenCV dependency.
package l2metrics
