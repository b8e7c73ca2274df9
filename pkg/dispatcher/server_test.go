package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/cuemby/taskd/pkg/security"
	"google.golang.org/grpc"
)

func TestNewServerRejectsUninitializedCA(t *testing.T) {
	ca := security.NewCertAuthority(t.TempDir())
	_, err := NewServer(&fakeAgent{}, Config{NodeID: "n1", CA: ca})
	if err == nil {
		t.Fatal("expected an error for an uninitialized CA")
	}
}

func TestNewServerIssuesNodeCertificate(t *testing.T) {
	ca := security.NewCertAuthority(t.TempDir())
	if err := ca.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	s, err := NewServer(&fakeAgent{}, Config{NodeID: "n1", SuperUID: 0, ServiceUID: 64030, CA: ca})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if s.grpc == nil {
		t.Fatal("expected a configured grpc.Server")
	}
}

func TestStepAgentSocketPath(t *testing.T) {
	got := StepAgentSocketPath("/run/taskd", 7, 2)
	want := "/run/taskd/step-7.2.sock"
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestMetricsInterceptorPassesThroughResultAndError(t *testing.T) {
	info := &grpc.UnaryServerInfo{FullMethod: fullMethod("Ping")}

	resp, err := metricsInterceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	})
	if err != nil || resp != "ok" {
		t.Fatalf("resp=%v err=%v, want ok/nil", resp, err)
	}

	wantErr := errors.New("boom")
	_, err = metricsInterceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, wantErr
	})
	if err != wantErr {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestNewStepAgentServerServesUnixSocket(t *testing.T) {
	s := NewStepAgentServer(&fakeAgent{})
	if s.grpc == nil {
		t.Fatal("expected a configured grpc.Server")
	}
}
