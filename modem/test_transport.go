package modem

import (
	"bytes"
	"io"
	"sync"
)

// TestTransport is a scripted in-memory Transport for tests.
//
// Expectations pair a write with the bytes the modem answers: when the next
// write equals the head of the script, its reply becomes readable. Writes
// that do not match are recorded and get no reply, so the waiting command
// times out the way it would against a real modem. Read never blocks; it
// returns zero bytes when nothing is queued, like a serial port whose read
// timeout expired.
type TestTransport struct {
	mu         sync.Mutex
	rx         bytes.Buffer
	script     []exchange
	written    bytes.Buffer
	unexpected [][]byte
	closed     bool
}

type exchange struct {
	write []byte
	reply []byte
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{}
}

// Expect appends an exchange to the script.
func (t *TestTransport) Expect(write, reply string) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script = append(t.script, exchange{write: []byte(write), reply: []byte(reply)})
	return t
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}
	t.written.Write(p)
	if len(t.script) > 0 && bytes.Equal(p, t.script[0].write) {
		t.rx.Write(t.script[0].reply)
		t.script = t.script[1:]
		return len(p), nil
	}
	t.unexpected = append(t.unexpected, bytes.Clone(p))
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rx.Len() == 0 {
		if t.closed {
			return 0, io.EOF
		}
		return 0, nil
	}
	return t.rx.Read(p)
}

func (t *TestTransport) Drain() error {
	return nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// SendData queues data to be read by the transport.
// This simulates unsolicited output from the modem.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.rx.WriteString(data)
	}
}

// Pending returns the number of scripted exchanges not yet performed.
func (t *TestTransport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.script)
}

// Unexpected returns the writes that did not match the script.
func (t *TestTransport) Unexpected() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.unexpected))
	for i, p := range t.unexpected {
		out[i] = string(p)
	}
	return out
}

// Written returns everything written so far.
func (t *TestTransport) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written.String()
}
