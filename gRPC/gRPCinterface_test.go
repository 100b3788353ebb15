package proto

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"LaneDetServer/engine"
	"LaneDetServer/geometry"
	iface "LaneDetServer/interface"
	"LaneDetServer/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type MockBackend struct {
	mu      sync.Mutex
	id      string
	cfg     iface.EngineConfig
	frames  int
	resets  int
	fail    error
	lastImg image.Rectangle
}

func (m *MockBackend) Load(cfg iface.EngineConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	return nil
}

func (m *MockBackend) Detect(img *image.Gray) iface.RetData {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return iface.RetData{Success: false, Data: m.fail}
	}
	m.frames++
	m.lastImg = img.Bounds()
	return iface.RetData{Success: true, Data: iface.LaneResult{
		Left:   geometry.LineSegment{X1: 200, Y1: 480, X2: 392, Y2: 288},
		Right:  geometry.LineSegment{X1: 300, Y1: 288, X2: 492, Y2: 480},
		ROI:    image.Rect(0, 288, 640, 480),
		Locked: [2]bool{true, true},
	}}
}

func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
}

func (m *MockBackend) Destroy() {}

func (m *MockBackend) CheckConfig() iface.EngineConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

func (m *MockBackend) Stats() iface.SessionStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return iface.SessionStats{ID: m.id, State: engine.IDLE, Frames: uint64(m.frames)}
}

type mockFleet struct {
	mu       sync.Mutex
	backends map[string]*MockBackend
}

func (f *mockFleet) factory(id string) iface.Backend {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := &MockBackend{id: id}
	f.backends[id] = b
	return b
}

func (f *mockFleet) get(id string) *MockBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backends[id]
}

func encodedFrame(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 640, 480))))
	return buf.Bytes()
}

func startTestServer(t *testing.T) (*LaneServiceClient, *Server, *mockFleet) {
	t.Helper()
	fleet := &mockFleet{backends: map[string]*MockBackend{}}
	srv := NewServer(session.NewRegistry(fleet.factory, 8), iface.DefaultEngineConfig(), 4)
	srv.StartWorker(2)

	gs, addr, err := StartGRPCServer(0, srv)
	require.NoError(t, err)
	t.Cleanup(gs.Stop)

	target := fmt.Sprintf("localhost:%d", addr.(*net.TCPAddr).Port)
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewLaneServiceClient(conn), srv, fleet
}

func openSession(t *testing.T, client *LaneServiceClient, fields map[string]any) string {
	t.Helper()
	req, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	id, err := client.Open(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, id.GetValue())
	return id.GetValue()
}

func number(s *structpb.Struct, path ...string) float64 {
	for _, p := range path[:len(path)-1] {
		s = s.GetFields()[p].GetStructValue()
	}
	return s.GetFields()[path[len(path)-1]].GetNumberValue()
}

func TestLaneService(t *testing.T) {
	client, srv, fleet := startTestServer(t)
	ctx := context.Background()
	frame := encodedFrame(t)

	id := openSession(t, client, map[string]any{
		"description": "front",
		"tracker":     map[string]any{"maxLastCounter": 7},
	})

	t.Run("Test Open applies overrides", func(t *testing.T) {
		cfg := fleet.get(id).CheckConfig()
		assert.Equal(t, 7, cfg.Tracker.MaxLastCounter)
		assert.Equal(t, iface.DefaultEngineConfig().Extractor, cfg.Extractor)
	})

	t.Run("Test Detect", func(t *testing.T) {
		out, err := client.Detect(ctx, id, frame)
		require.NoError(t, err)
		assert.Equal(t, 200.0, number(out, "left", "x1"))
		assert.Equal(t, 288.0, number(out, "left", "y2"))
		assert.Equal(t, 492.0, number(out, "right", "x2"))
		assert.Equal(t, 288.0, number(out, "roi", "Min", "Y"))
		locked := out.GetFields()["locked"].GetListValue().GetValues()
		require.Len(t, locked, 2)
		assert.True(t, locked[0].GetBoolValue())
		assert.Equal(t, image.Rect(0, 0, 640, 480), fleet.get(id).lastImg)
	})

	t.Run("Test Stream", func(t *testing.T) {
		stream, err := client.Stream(ctx, id)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			require.NoError(t, stream.Send(wrapperspb.Bytes(frame)))
			out, err := stream.Recv()
			require.NoError(t, err)
			assert.Equal(t, 200.0, number(out, "left", "x1"))
		}
		require.NoError(t, stream.CloseSend())
		_, err = stream.Recv()
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("Test Check", func(t *testing.T) {
		out, err := client.Check(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "front", out.GetFields()["description"].GetStringValue())
		assert.Equal(t, 4.0, number(out, "stats", "frames"))
		assert.Equal(t, 7.0, number(out, "config", "tracker", "maxLastCounter"))
	})

	t.Run("Test Reset", func(t *testing.T) {
		_, err := client.Reset(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, fleet.get(id).resets)
	})

	t.Run("Test CheckAll", func(t *testing.T) {
		openSession(t, client, map[string]any{"description": "rear"})
		out, err := client.CheckAll(ctx)
		require.NoError(t, err)
		assert.Len(t, out.GetFields()["sessions"].GetListValue().GetValues(), 2)
	})

	t.Run("Test Close", func(t *testing.T) {
		_, err := client.Close(ctx, id)
		require.NoError(t, err)
		_, err = client.Check(ctx, id)
		assert.Equal(t, codes.NotFound, status.Code(err))
		_, err = client.Close(ctx, id)
		assert.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("Test Shutdown", func(t *testing.T) {
		_, err := client.Shutdown(ctx)
		require.NoError(t, err)
		select {
		case <-srv.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("server did not signal shutdown")
		}
		// a second request is harmless
		_, err = client.Shutdown(ctx)
		assert.NoError(t, err)
	})
}

func TestLaneServiceErrors(t *testing.T) {
	client, _, fleet := startTestServer(t)
	ctx := context.Background()
	frame := encodedFrame(t)
	id := openSession(t, client, map[string]any{})

	tests := []struct {
		name string
		call func() error
		code codes.Code
	}{
		{"missing session header", func() error {
			_, err := client.Detect(ctx, "", frame)
			return err
		}, codes.InvalidArgument},
		{"unknown session", func() error {
			_, err := client.Detect(ctx, "nope", frame)
			return err
		}, codes.NotFound},
		{"undecodable image", func() error {
			_, err := client.Detect(ctx, id, []byte("garbage"))
			return err
		}, codes.InvalidArgument},
		{"unknown open option", func() error {
			req, _ := structpb.NewStruct(map[string]any{"model": "yolo"})
			_, err := client.Open(ctx, req)
			return err
		}, codes.InvalidArgument},
		{"busy backend", func() error {
			b := fleet.get(id)
			b.mu.Lock()
			b.fail = engine.ErrBusy
			b.mu.Unlock()
			defer func() {
				b.mu.Lock()
				b.fail = nil
				b.mu.Unlock()
			}()
			_, err := client.Detect(ctx, id, frame)
			return err
		}, codes.Unavailable},
		{"reset unknown", func() error {
			_, err := client.Reset(ctx, "nope")
			return err
		}, codes.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestSubmitReleasedOnShutdown(t *testing.T) {
	fleet := &mockFleet{backends: map[string]*MockBackend{}}
	// no workers: the job stays in the queue
	srv := NewServer(session.NewRegistry(fleet.factory, 1), iface.DefaultEngineConfig(), 4)

	frame := encodedFrame(t)
	errc := make(chan error, 1)
	go func() {
		_, err := srv.submit(context.Background(), &MockBackend{}, frame)
		errc <- err
	}()
	assert.Eventually(t, func() bool { return len(srv.JobQueue) == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err := srv.Shutdown(context.Background(), nil)
	require.NoError(t, err)
	select {
	case err := <-errc:
		assert.Equal(t, codes.Unavailable, status.Code(err))
	case <-time.After(2 * time.Second):
		t.Fatal("submit still waiting after shutdown")
	}
}

func TestToStatusDefault(t *testing.T) {
	err := toStatus(fmt.Errorf("wrapped: %w", io.ErrUnexpectedEOF))
	assert.Equal(t, codes.Internal, status.Code(err))
}
