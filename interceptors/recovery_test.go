package interceptors

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/Keksclan/optionscache/contextx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func bufLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

// fakeStream is a ServerStream with just enough behavior for interceptors.
type fakeStream struct {
	grpc.ServerStream
	ctx    context.Context
	header metadata.MD
}

func (f *fakeStream) Context() context.Context { return f.ctx }

func (f *fakeStream) SetHeader(md metadata.MD) error {
	f.header = metadata.Join(f.header, md)
	return nil
}

func TestRecoveryUnary_PanicBecomesInternal(t *testing.T) {
	logger, buf := bufLogger()
	ic := RecoveryUnary(logger)

	ctx := contextx.WithRequestID(t.Context(), "req-9")
	resp, err := ic(ctx, "req", &grpc.UnaryServerInfo{FullMethod: "/svc/Boom"},
		func(context.Context, any) (any, error) { panic("boom") })
	if resp != nil {
		t.Fatalf("expected nil response, got %v", resp)
	}
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected codes.Internal, got %v", err)
	}
	out := buf.String()
	for _, want := range []string{"handler panic", "method=/svc/Boom", "panic=boom", "request_id=req-9"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log lacks %q: %s", want, out)
		}
	}
}

func TestRecoveryUnary_NonStringPanic(t *testing.T) {
	logger, _ := bufLogger()
	_, err := RecoveryUnary(logger)(t.Context(), "req", &grpc.UnaryServerInfo{},
		func(context.Context, any) (any, error) { panic(42) })
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected codes.Internal, got %v", err)
	}
}

func TestRecoveryUnary_Passthrough(t *testing.T) {
	resp, err := RecoveryUnary(nil)(t.Context(), "hello", &grpc.UnaryServerInfo{},
		func(_ context.Context, req any) (any, error) { return req, nil })
	if err != nil || resp != "hello" {
		t.Fatalf("unexpected result %v, %v", resp, err)
	}
}

func TestRecoveryStream_PanicBecomesInternal(t *testing.T) {
	logger, _ := bufLogger()
	err := RecoveryStream(logger)(nil, &fakeStream{ctx: t.Context()}, &grpc.StreamServerInfo{FullMethod: "/svc/Watch"},
		func(any, grpc.ServerStream) error { panic("stream boom") })
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected codes.Internal, got %v", err)
	}
}
