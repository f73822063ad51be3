// Package grpcnet carries rank-to-rank messages between processes over gRPC.
// Payloads travel as google.protobuf.BytesValue; the source rank, tag and
// per-channel sequence number ride in request metadata.
package grpcnet

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const serviceName = "heatgrid.comm.v1.Transport"

const (
	mdSource   = "x-heatgrid-src"
	mdTag      = "x-heatgrid-tag"
	mdSequence = "x-heatgrid-seq"
)

// TransportServer is the server side of the rank transport.
type TransportServer interface {
	Deliver(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	Abort(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
}

// RegisterTransportServer attaches srv to s.
func RegisterTransportServer(s grpc.ServiceRegistrar, srv TransportServer) {
	s.RegisterService(&transportServiceDesc, srv)
}

var transportServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TransportServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
		{MethodName: "Abort", Handler: abortHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "heatgrid/comm/v1/transport.proto",
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TransportServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Deliver"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TransportServer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func abortHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TransportServer).Abort(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Abort"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TransportServer).Abort(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// envelope is the routing header of one message.
type envelope struct {
	src int
	tag int
	seq uint64
}

func (e envelope) outgoing(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx,
		mdSource, strconv.Itoa(e.src),
		mdTag, strconv.Itoa(e.tag),
		mdSequence, strconv.FormatUint(e.seq, 10),
	)
}

func envelopeFromIncoming(ctx context.Context) (envelope, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return envelope{}, status.Error(codes.InvalidArgument, "missing routing metadata")
	}
	get := func(key string) (string, error) {
		vals := md.Get(key)
		if len(vals) != 1 {
			return "", status.Errorf(codes.InvalidArgument, "metadata %s: want one value, got %d", key, len(vals))
		}
		return vals[0], nil
	}

	var e envelope
	raw, err := get(mdSource)
	if err != nil {
		return e, err
	}
	if e.src, err = strconv.Atoi(raw); err != nil {
		return e, status.Errorf(codes.InvalidArgument, "metadata %s: %v", mdSource, err)
	}
	if raw, err = get(mdTag); err != nil {
		return e, err
	}
	if e.tag, err = strconv.Atoi(raw); err != nil {
		return e, status.Errorf(codes.InvalidArgument, "metadata %s: %v", mdTag, err)
	}
	if raw, err = get(mdSequence); err != nil {
		return e, err
	}
	if e.seq, err = strconv.ParseUint(raw, 10, 64); err != nil {
		return e, status.Errorf(codes.InvalidArgument, "metadata %s: %v", mdSequence, err)
	}
	return e, nil
}

// encodeFloats packs values as little-endian IEEE 754 doubles.
func encodeFloats(values []float64) []byte {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

func decodeFloats(buf []byte) ([]float64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("payload of %d bytes is not a whole number of float64s", len(buf))
	}
	out := make([]float64, len(buf)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return out, nil
}
