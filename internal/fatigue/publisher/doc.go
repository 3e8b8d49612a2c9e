// Package publisher streams session status snapshots to UI and telemetry
// consumers over gRPC.
//
// The service is declared by hand rather than generated: it has a single
// server-streaming method whose request is google.protobuf.Empty and whose
// messages are google.protobuf.Struct holding the JSON form of
// pipeline.Status.
//
//	service StatusService {
//	  rpc Watch(google.protobuf.Empty) returns (stream google.protobuf.Struct);
//	}
package publisher
