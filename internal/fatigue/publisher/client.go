package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/fatigue.report/internal/fatigue/pipeline"
)

// Client watches a remote StatusService.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient connects to target without transport security; extra options
// are appended.
func NewClient(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Watch calls fn for every status received until ctx is cancelled, the
// server ends the stream (nil) or fn returns an error.
func (c *Client) Watch(ctx context.Context, fn func(pipeline.Status) error) error {
	stream, err := c.conn.NewStream(ctx, &StatusServiceDesc.Streams[0], watchMethod)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		st, err := StatusFromStruct(msg)
		if err != nil {
			return err
		}
		if err := fn(st); err != nil {
			return err
		}
	}
}

func (c *Client) Close() error { return c.conn.Close() }
