package realtime

import (
	"encoding/json"
	"sync"
	"time"
)

// fakeClientConn is an in-memory ClientConn capturing written frames
type fakeClientConn struct {
	mu     sync.Mutex
	frames [][]byte
	readCh chan []byte
	closed bool
}

func newFakeClientConn() *fakeClientConn {
	return &fakeClientConn{readCh: make(chan []byte, 16)}
}

func (f *fakeClientConn) ReadMessage() ([]byte, error) {
	msg, ok := <-f.readCh
	if !ok {
		return nil, ErrConnClosed
	}
	return msg, nil
}

func (f *fakeClientConn) WriteMessage(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrConnClosed
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeClientConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.readCh)
	}
	return nil
}

func (f *fakeClientConn) SetReadDeadline(t time.Time) error  { return nil }
func (f *fakeClientConn) SetWriteDeadline(t time.Time) error { return nil }

// Frames returns a snapshot of the written frames
func (f *fakeClientConn) Frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	frames := make([][]byte, len(f.frames))
	copy(frames, f.frames)
	return frames
}

// Responses decodes every written frame as a response envelope
func (f *fakeClientConn) Responses() []Response {
	var out []Response
	for _, frame := range f.Frames() {
		var resp Response
		if err := json.Unmarshal(frame, &resp); err == nil {
			out = append(out, resp)
		}
	}
	return out
}

// EventCount counts frames carrying the given event kind
func (f *fakeClientConn) EventCount(event string) int {
	n := 0
	for _, resp := range f.Responses() {
		if resp.Event == event {
			n++
		}
	}
	return n
}

func newTestClient(connId, userId, tenantId string, server *WsServer) (*Client, *fakeClientConn) {
	conn := newFakeClientConn()
	client := NewClient(conn, userId, tenantId, 1, "", connId, server)
	return client, conn
}
