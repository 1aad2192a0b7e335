package server

import (
	"context"
	"errors"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yitech/candlerelay/relay"
)

// SessionMethod is the full gRPC method name of the relay session stream.
const SessionMethod = "/candlerelay.v1.Relay/Session"

// RelayServer is the gRPC service surface. Each frame in either direction is
// a google.protobuf.Struct holding the same envelope the websocket carries.
type RelayServer interface {
	Session(stream grpc.ServerStream) error
}

var relayServiceDesc = grpc.ServiceDesc{
	ServiceName: "candlerelay.v1.Relay",
	HandlerType: (*RelayServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Session",
			Handler:       relaySessionHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "candlerelay/v1/relay.proto",
}

func relaySessionHandler(srv any, stream grpc.ServerStream) error {
	return srv.(RelayServer).Session(stream)
}

// RegisterRelayServer registers srv on s.
func RegisterRelayServer(s grpc.ServiceRegistrar, srv RelayServer) {
	s.RegisterService(&relayServiceDesc, srv)
}

// OpenSession starts a session stream on a client connection.
func OpenSession(ctx context.Context, cc grpc.ClientConnInterface, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return cc.NewStream(ctx, &relayServiceDesc.Streams[0], SessionMethod, opts...)
}

// GRPC returns the hub's gRPC service implementation.
func (h *Hub) GRPC() RelayServer { return grpcRelay{hub: h} }

type grpcRelay struct {
	hub *Hub
}

func (g grpcRelay) Session(stream grpc.ServerStream) error {
	conn := newGRPCConn(stream)
	err := g.hub.serve(stream.Context(), conn, "grpc")
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, relay.ErrSessionClosed):
		return nil
	case status.Code(err) == codes.Canceled:
		return nil
	default:
		return err
	}
}

type recvResult struct {
	msg []byte
	err error
}

// grpcConn adapts a server stream to relay.Conn. RecvMsg cannot be
// interrupted, so it runs on its own goroutine and Close stops waiting on it;
// the goroutine exits once the handler returns.
type grpcConn struct {
	stream grpc.ServerStream
	recv   chan recvResult
	closed chan struct{}
	once   sync.Once
}

func newGRPCConn(stream grpc.ServerStream) *grpcConn {
	c := &grpcConn{
		stream: stream,
		recv:   make(chan recvResult),
		closed: make(chan struct{}),
	}
	go c.recvLoop()
	return c
}

func (c *grpcConn) recvLoop() {
	for {
		var m structpb.Struct
		err := c.stream.RecvMsg(&m)
		var b []byte
		if err == nil {
			b, err = protojson.Marshal(&m)
		}
		select {
		case c.recv <- recvResult{msg: b, err: err}:
		case <-c.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *grpcConn) ReadMessage(context.Context) ([]byte, error) {
	select {
	case r := <-c.recv:
		return r.msg, r.err
	case <-c.closed:
		return nil, relay.ErrSessionClosed
	}
}

func (c *grpcConn) WriteMessage(msg []byte) error {
	var m structpb.Struct
	if err := protojson.Unmarshal(msg, &m); err != nil {
		return err
	}
	return c.stream.SendMsg(&m)
}

func (c *grpcConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}
