package publisher

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/fatigue.report/internal/fatigue/pipeline"
)

const (
	ServiceName = "fatigue.v1.StatusService"
	watchMethod = "/" + ServiceName + "/Watch"
)

// StatusServiceServer is the server API for StatusService.
type StatusServiceServer interface {
	Watch(*emptypb.Empty, grpc.ServerStream) error
}

// StatusServiceDesc describes StatusService for grpc.Server.RegisterService.
var StatusServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StatusServiceServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "fatigue/v1/status.proto",
}

func watchHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(StatusServiceServer).Watch(in, stream)
}

// StatusToStruct converts a status to its wire form.
func StatusToStruct(st pipeline.Status) (*structpb.Struct, error) {
	b, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to encode status: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return structpb.NewStruct(m)
}

// StatusFromStruct is the inverse of StatusToStruct.
func StatusFromStruct(s *structpb.Struct) (pipeline.Status, error) {
	var st pipeline.Status
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return st, fmt.Errorf("failed to encode struct: %w", err)
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return st, fmt.Errorf("failed to decode status: %w", err)
	}
	return st, nil
}
