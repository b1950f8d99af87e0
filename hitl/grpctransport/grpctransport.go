// Package grpctransport exposes HITL review requests to an out-of-process
// reviewer over gRPC. It avoids a protoc code-generation step by using
// google.golang.org/protobuf's pre-generated structpb.Struct as the single
// wire message for both directions, and a hand-built grpc.ServiceDesc in
// place of generated *_grpc.pb.go stubs describing a single unary method.
package grpctransport

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"goa.design/taskorchestrator/hitl"
)

const serviceName = "taskorchestrator.hitl.Review"

// serviceDesc hand-describes the single unary RPC this package exposes,
// standing in for a generated *_grpc.pb.go file.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*reviewServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Review",
			Handler:    reviewHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "taskorchestrator/hitl/grpctransport.proto",
}

type reviewServer interface {
	Review(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func reviewHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(reviewServer).Review(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Review"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(reviewServer).Review(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// reviewToStruct marshals a hitl.Review into a structpb.Struct wire message.
func reviewToStruct(r hitl.Review) (*structpb.Struct, error) {
	data, err := structpb.NewStruct(map[string]any{
		"checkpoint_name": string(r.CheckpointName),
		"context_message": r.ContextMessage,
		"data_for_review": fmt.Sprintf("%v", r.DataForReview),
		"node_id":         r.NodeID,
		"attempt":         float64(r.Attempt),
	})
	if err != nil {
		return nil, fmt.Errorf("grpctransport: encode review: %w", err)
	}
	return data, nil
}

// structToResponse decodes a structpb.Struct wire message into a hitl.Response.
func structToResponse(s *structpb.Struct) hitl.Response {
	f := s.GetFields()
	resp := hitl.Response{}
	if v, ok := f["verdict"]; ok {
		resp.Verdict = hitl.Verdict(v.GetStringValue())
	}
	if v, ok := f["modification_instructions"]; ok {
		resp.ModificationInstructions = v.GetStringValue()
	}
	if v, ok := f["reason"]; ok {
		resp.Reason = v.GetStringValue()
	}
	return resp
}

func responseToStruct(r hitl.Response) (*structpb.Struct, error) {
	data, err := structpb.NewStruct(map[string]any{
		"verdict":                   string(r.Verdict),
		"modification_instructions": r.ModificationInstructions,
		"reason":                    r.Reason,
	})
	if err != nil {
		return nil, fmt.Errorf("grpctransport: encode response: %w", err)
	}
	return data, nil
}

func structToReview(s *structpb.Struct) hitl.Review {
	f := s.GetFields()
	rev := hitl.Review{}
	if v, ok := f["checkpoint_name"]; ok {
		rev.CheckpointName = hitl.Checkpoint(v.GetStringValue())
	}
	if v, ok := f["context_message"]; ok {
		rev.ContextMessage = v.GetStringValue()
	}
	if v, ok := f["data_for_review"]; ok {
		rev.DataForReview = v.GetStringValue()
	}
	if v, ok := f["node_id"]; ok {
		rev.NodeID = v.GetStringValue()
	}
	if v, ok := f["attempt"]; ok {
		rev.Attempt = int(v.GetNumberValue())
	}
	return rev
}

// ReviewFunc handles an incoming Review on the server side, returning the
// reviewer's Response.
type ReviewFunc func(ctx context.Context, review hitl.Review) (hitl.Response, error)

// server adapts a ReviewFunc to the hand-described reviewServer interface.
type server struct {
	fn ReviewFunc
}

func (s *server) Review(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	resp, err := s.fn(ctx, structToReview(req))
	if err != nil {
		return nil, err
	}
	return responseToStruct(resp)
}

// Server wraps a *grpc.Server configured to serve HITL reviews via fn.
type Server struct {
	grpcServer *grpc.Server
}

// NewServer constructs a Server. Callers obtain the underlying *grpc.Server
// via Unwrap if they need to register interceptors or reflection before
// calling Serve.
func NewServer(fn ReviewFunc, opts ...grpc.ServerOption) *Server {
	gs := grpc.NewServer(opts...)
	gs.RegisterService(&serviceDesc, &server{fn: fn})
	return &Server{grpcServer: gs}
}

// Unwrap returns the underlying *grpc.Server.
func (s *Server) Unwrap() *grpc.Server { return s.grpcServer }

// Serve accepts connections on lis and blocks until the server stops.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop gracefully stops the server.
func (s *Server) Stop() { s.grpcServer.GracefulStop() }

// Transport implements hitl.Transport by issuing a unary gRPC call per
// review, against a remote reviewer UI.
type Transport struct {
	conn *grpc.ClientConn
}

// NewTransport wraps an already-dialed *grpc.ClientConn.
func NewTransport(conn *grpc.ClientConn) *Transport {
	return &Transport{conn: conn}
}

// Request implements hitl.Transport.
func (t *Transport) Request(ctx context.Context, review hitl.Review) (hitl.Response, error) {
	in, err := reviewToStruct(review)
	if err != nil {
		return hitl.Response{}, err
	}
	out := new(structpb.Struct)
	if err := t.conn.Invoke(ctx, "/"+serviceName+"/Review", in, out); err != nil {
		return hitl.Response{}, fmt.Errorf("grpctransport: invoke: %w", err)
	}
	return structToResponse(out), nil
}
