package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

// Client watches exams on a remote Monitor service with an admin token.
type Client struct {
	cc    *grpc.ClientConn
	token string
}

// Dial connects without transport security unless opts override it.
func Dial(target, token string, opts ...grpc.DialOption) (*Client, error) {
	all := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	cc, err := grpc.NewClient(target, all...)
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc, token: token}, nil
}

func (c *Client) Close() error { return c.cc.Close() }

// Watcher is an open Watch stream.
type Watcher struct {
	stream grpc.ClientStream
	// Status is the exam status when the subscription was registered.
	Status types.ExamStatus
}

// Watch opens a stream for examID and returns once the server has
// registered the subscription; alerts published after that are delivered.
func (c *Client) Watch(ctx context.Context, examID string) (*Watcher, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)

	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], WatchMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(wrapperspb.String(examID)); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	md, err := stream.Header()
	if err != nil {
		return nil, err
	}
	if md == nil {
		// Trailers-only response: the status is the failure.
		return nil, stream.RecvMsg(new(structpb.Struct))
	}

	w := &Watcher{stream: stream}
	if v := md.Get(StatusHeader); len(v) > 0 {
		w.Status = types.ExamStatus(v[0])
	}
	return w, nil
}

// Recv blocks for the next alert.
func (w *Watcher) Recv() (types.Alert, error) {
	msg := new(structpb.Struct)
	if err := w.stream.RecvMsg(msg); err != nil {
		return types.Alert{}, err
	}
	return alertFromStruct(msg), nil
}
