// Package adminapi exposes a small read-only gRPC surface for external
// dashboards to observe one running node: its current role and id via
// a unary call, and a live feed of role transitions via a server
// stream. Modeled on the teacher's SFU bridge (a gRPC service fronting
// a long-lived local process) without its codegen step: messages are
// google.golang.org/protobuf's structpb.Struct, a real proto.Message
// needing no .proto compilation, and the service is registered through
// grpc's raw ServiceDesc the same mechanism protoc-gen-go-grpc targets.
package adminapi

import (
	"context"
	"sync"

	"github.com/arenamesh/zarena/internal/v1/arenanode"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// RoleReporter is the subset of *arenanode.Node the admin surface
// needs; satisfied by arenanode.Node[A, S] for any A, S.
type RoleReporter interface {
	ID() arenanode.NodeID
	CurrentRole() string
	Healthy() bool
}

// Server answers NodeStatus and StreamRoleChanges for one node.
type Server struct {
	node RoleReporter

	mu          sync.Mutex
	subscribers map[chan string]struct{}
}

// NewServer returns a Server reporting on node. Callers must forward
// role transitions to it via PublishRoleChange as they happen; the
// server does not poll the node itself.
func NewServer(node RoleReporter) *Server {
	return &Server{node: node, subscribers: make(map[chan string]struct{})}
}

// PublishRoleChange fans role out to every active StreamRoleChanges
// subscriber. Non-blocking: a slow subscriber drops the update rather
// than stalling the caller.
func (s *Server) PublishRoleChange(role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- role:
		default:
		}
	}
}

func (s *Server) subscribe() chan string {
	ch := make(chan string, 8)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan string) {
	s.mu.Lock()
	delete(s.subscribers, ch)
	s.mu.Unlock()
	close(ch)
}

func (s *Server) nodeStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"node_id": s.node.ID().String(),
		"role":    s.node.CurrentRole(),
		"healthy": s.node.Healthy(),
	})
}

func (s *Server) streamRoleChanges(_ *structpb.Struct, stream grpc.ServerStream) error {
	ch := s.subscribe()
	defer s.unsubscribe(ch)

	for {
		select {
		case role := <-ch:
			msg, err := structpb.NewStruct(map[string]any{"role": role})
			if err != nil {
				return err
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

// Register attaches the admin service to an *grpc.Server.
func Register(grpcServer *grpc.Server, server *Server) {
	grpcServer.RegisterService(&serviceDesc, server)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "arena.v1.AdminService",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "NodeStatus",
			Handler:    nodeStatusHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamRoleChanges",
			Handler:       streamRoleChangesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "adminapi/admin.proto",
}

func nodeStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.nodeStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/arena.v1.AdminService/NodeStatus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.nodeStatus(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func streamRoleChangesHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*Server).streamRoleChanges(in, stream)
}
