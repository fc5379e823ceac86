package controlchannel

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sentramon/server/internal/domain"
)

type fakeStatusProvider struct {
	payload StatusPayload
}

func (f *fakeStatusProvider) StatusPayload() StatusPayload {
	return f.payload
}

type fakeNodesLister struct {
	entries []ReportEntry
}

func (f *fakeNodesLister) ReportEntries(ctx context.Context) ([]ReportEntry, error) {
	return f.entries, nil
}

type fakeController struct {
	paused int32
	stopped int32
}

func (f *fakeController) Pause() { atomic.StoreInt32(&f.paused, 1) }
func (f *fakeController) Stop()  { atomic.StoreInt32(&f.stopped, 1) }

func newTestService(t *testing.T) (*Client, *fakeController, func()) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "ha.sock")

	status := &fakeStatusProvider{payload: StatusPayload{
		NodeID: "node-1", Name: "alpha", Status: domain.StatusActive, Address: "127.0.0.1", Port: 10051,
	}}
	nodes := &fakeNodesLister{entries: []ReportEntry{
		{NodeID: "node-1", Name: "alpha", Status: domain.StatusActive, Address: "127.0.0.1", Port: 10051, LastAccessAge: time.Second},
	}}
	ctrl := &fakeController{}

	logger := zap.NewNop()
	svc := New(socketPath, status, nodes, ctrl, logger)

	ctx, cancel := context.WithCancel(context.Background())
	readyCh := make(chan struct{})
	go func() {
		close(readyCh)
		_ = svc.Serve(ctx)
	}()
	<-readyCh
	time.Sleep(50 * time.Millisecond)

	return NewClient(socketPath), ctrl, cancel
}

func TestClientServiceStatusRoundTrip(t *testing.T) {
	client, _, cancel := newTestService(t)
	defer cancel()

	status, err := client.Status(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Name != "alpha" || status.Status != domain.StatusActive {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestClientServicePauseAndStop(t *testing.T) {
	client, ctrl, cancel := newTestService(t)
	defer cancel()

	if err := client.Pause(context.Background()); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if atomic.LoadInt32(&ctrl.paused) != 1 {
		t.Fatal("expected Pause to reach the controller")
	}

	if err := client.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if atomic.LoadInt32(&ctrl.stopped) != 1 {
		t.Fatal("expected Stop to reach the controller")
	}
}

func TestClientServiceReportNodes(t *testing.T) {
	client, _, cancel := newTestService(t)
	defer cancel()

	entries, err := client.ReportNodes(context.Background())
	if err != nil {
		t.Fatalf("ReportNodes: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "alpha" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
