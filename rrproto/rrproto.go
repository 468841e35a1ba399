// Package rrproto wires airreplay's RecordReplay family into gRPC unary
// calls, so a host node can record or replay its outbound and inbound RPCs
// without touching per-call code, grounded on
// internal/escrow/interceptor.go's interceptor shape.
package rrproto

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"

	"github.com/ocx/airreplay/airreplay"
)

// KeyFunc derives the SaveRestore/RecordReplay key for a unary call, given
// its full gRPC method name (e.g. "/ledger.LedgerService/RecordTurn"). The
// default keys on the method name alone; callers with several concurrent
// calls to the same method should supply one that folds in a request field.
type KeyFunc func(fullMethod string, req proto.Message) string

func defaultKeyFunc(fullMethod string, _ proto.Message) string { return fullMethod }

// ConnectionInfoFunc derives the connection_info string RecordReplay
// attaches to an entry, given the call's context and full method. Callers
// that know their peer address should supply one built from
// airreplay.FormatConnectionInfo; the default leaves it empty.
type ConnectionInfoFunc func(ctx context.Context, fullMethod string) string

func defaultConnectionInfoFunc(context.Context, string) string { return "" }

// Options configures the interceptors this package builds.
type Options struct {
	Engine         *airreplay.Engine
	Kind           airreplay.Kind
	Key            KeyFunc
	ConnectionInfo ConnectionInfoFunc
}

func (o *Options) withDefaults() *Options {
	out := *o
	if out.Key == nil {
		out.Key = defaultKeyFunc
	}
	if out.ConnectionInfo == nil {
		out.ConnectionInfo = defaultConnectionInfoFunc
	}
	if out.Kind == airreplay.KindInvalid {
		out.Kind = airreplay.KindDefault
	}
	return &out
}

// WrapRequest packs req into a RecordReplay call, returning the recorded
// position (record mode) or replay cursor (replay mode). It is the
// request-side half of UnaryClientInterceptor, exposed standalone for
// callers that drive RecordReplay outside of grpc.Invoke.
func WrapRequest(ctx context.Context, opts *Options, fullMethod string, req proto.Message) (int, error) {
	o := opts.withDefaults()
	key := o.Key(fullMethod, req) + "#req"
	connInfo := o.ConnectionInfo(ctx, fullMethod)
	return o.Engine.RecordReplay(key, connInfo, req, o.Kind, fullMethod+" request")
}

// WrapResponse is the response-side half, called with the reply message
// after the underlying invoker returns.
func WrapResponse(ctx context.Context, opts *Options, fullMethod string, reply proto.Message) (int, error) {
	o := opts.withDefaults()
	key := o.Key(fullMethod, reply) + "#resp"
	connInfo := o.ConnectionInfo(ctx, fullMethod)
	return o.Engine.RecordReplay(key, connInfo, reply, o.Kind, fullMethod+" response")
}

// UnaryClientInterceptor returns a grpc.UnaryClientInterceptor that records
// (or replays) both the outbound request and the inbound reply through
// opts.Engine. During replay it still calls invoker (a live stub is assumed
// to be wired against the mock socket server or another recorded backend);
// callers that want to skip the live call entirely during replay should use
// WrapRequest/WrapResponse directly instead.
func UnaryClientInterceptor(opts *Options) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		callOpts ...grpc.CallOption,
	) error {
		reqMsg, ok := req.(proto.Message)
		if !ok {
			return fmt.Errorf("rrproto: request for %s does not implement proto.Message", method)
		}
		if _, err := WrapRequest(ctx, opts, method, reqMsg); err != nil {
			return err
		}

		if err := invoker(ctx, method, req, reply, cc, callOpts...); err != nil {
			return err
		}

		replyMsg, ok := reply.(proto.Message)
		if !ok {
			return fmt.Errorf("rrproto: reply for %s does not implement proto.Message", method)
		}
		_, err := WrapResponse(ctx, opts, method, replyMsg)
		return err
	}
}

// UnaryServerInterceptor mirrors UnaryClientInterceptor for the serving
// side: it records (or replays) the inbound request and the handler's
// response, so a recorded fleet of callers can be replayed against a live
// node's handlers.
func UnaryServerInterceptor(opts *Options) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		reqMsg, ok := req.(proto.Message)
		if !ok {
			return nil, fmt.Errorf("rrproto: request for %s does not implement proto.Message", info.FullMethod)
		}
		if _, err := WrapRequest(ctx, opts, info.FullMethod, reqMsg); err != nil {
			return nil, err
		}

		resp, err := handler(ctx, req)
		if err != nil {
			return nil, err
		}

		respMsg, ok := resp.(proto.Message)
		if !ok {
			return resp, nil
		}
		if _, err := WrapResponse(ctx, opts, info.FullMethod, respMsg); err != nil {
			return nil, err
		}
		return resp, nil
	}
}
