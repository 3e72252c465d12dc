package modem

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"go.bug.st/serial"
	"go.uber.org/mock/gomock"
)

func TestSerialDialer_Dial(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		dialer  SerialDialer
		ctx     context.Context
		wantErr string
		wantIs  error
	}{
		{
			name:    "Empty port name",
			dialer:  SerialDialer{},
			ctx:     context.Background(),
			wantErr: "modem: serial port name is required",
		},
		{
			name:    "Nil context",
			dialer:  SerialDialer{PortName: "/dev/ttyUSB0"},
			wantErr: "modem: context is nil",
		},
		{
			name:   "Canceled context",
			dialer: SerialDialer{PortName: "/dev/nonexistent"},
			ctx:    canceled,
			wantIs: context.Canceled,
		},
		{
			name:    "Port cannot be opened",
			dialer:  SerialDialer{PortName: "/dev/nonexistent", ReadTimeout: time.Millisecond},
			ctx:     context.Background(),
			wantErr: "open serial port /dev/nonexistent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport, err := tt.dialer.Dial(tt.ctx)
			if err == nil {
				t.Fatal("expected error")
			}
			if transport != nil {
				t.Error("expected nil transport on error")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("expected %v, got: %v", tt.wantIs, err)
			}
			if tt.wantErr != "" && !strings.HasPrefix(err.Error(), tt.wantErr) {
				t.Errorf("expected error starting with %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestSerialDialer_Mode(t *testing.T) {
	custom := &serial.Mode{BaudRate: 9600, Parity: serial.EvenParity, DataBits: 7, StopBits: serial.TwoStopBits}

	tests := []struct {
		name   string
		dialer SerialDialer
		want   serial.Mode
	}{
		{
			name:   "Defaults to 115200 8N1",
			dialer: SerialDialer{PortName: "/dev/ttyUSB0"},
			want:   serial.Mode{BaudRate: 115200, Parity: serial.NoParity, DataBits: 8, StopBits: serial.OneStopBit},
		},
		{
			name:   "Baud rate",
			dialer: SerialDialer{PortName: "/dev/ttyUSB0", BaudRate: 57600},
			want:   serial.Mode{BaudRate: 57600, Parity: serial.NoParity, DataBits: 8, StopBits: serial.OneStopBit},
		},
		{
			name:   "Mode overrides baud rate",
			dialer: SerialDialer{PortName: "/dev/ttyUSB0", BaudRate: 57600, Mode: custom},
			want:   *custom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := *tt.dialer.mode(); got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestSerialDialer_ReadTimeout(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, DefaultReadTimeout},
		{-time.Second, DefaultReadTimeout},
		{50 * time.Millisecond, 50 * time.Millisecond},
	}

	for _, tt := range tests {
		d := SerialDialer{PortName: "/dev/ttyUSB0", ReadTimeout: tt.in}
		if got := d.readTimeout(); got != tt.want {
			t.Errorf("readTimeout() with %v: expected %v, got %v", tt.in, tt.want, got)
		}
	}
}

// Test the interface compliance
func TestTransportInterface(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTransport := NewMockTransport(ctrl)

	// Test that mockTransport implements Transport interface
	var _ Transport = mockTransport

	// Test basic operations
	data := []byte("test")
	mockTransport.EXPECT().Write(data).Return(len(data), nil)
	mockTransport.EXPECT().Read(gomock.Any()).Return(4, nil)
	mockTransport.EXPECT().Drain().Return(nil)
	mockTransport.EXPECT().Close().Return(nil)

	n, err := mockTransport.Write(data)
	if err != nil {
		t.Errorf("unexpected write error: %v", err)
	}
	if n != len(data) {
		t.Errorf("expected %d bytes written, got %d", len(data), n)
	}

	buf := make([]byte, 10)
	n, err = mockTransport.Read(buf)
	if err != nil {
		t.Errorf("unexpected read error: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 bytes read, got %d", n)
	}

	if err := mockTransport.Drain(); err != nil {
		t.Errorf("unexpected drain error: %v", err)
	}

	err = mockTransport.Close()
	if err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}

func TestDialerInterface(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDialer := NewMockDialer(ctrl)
	mockTransport := NewMockTransport(ctrl)

	// Test that mockDialer implements Dialer interface
	var _ Dialer = mockDialer

	ctx := context.Background()
	mockDialer.EXPECT().Dial(ctx).Return(mockTransport, nil)

	transport, err := mockDialer.Dial(ctx)
	if err != nil {
		t.Errorf("unexpected dial error: %v", err)
	}
	if transport != mockTransport {
		t.Error("expected mock transport to be returned")
	}
}

func TestDialerInterface_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDialer := NewMockDialer(ctrl)
	dialError := errors.New("dial failed")

	ctx := context.Background()
	mockDialer.EXPECT().Dial(ctx).Return(nil, dialError)

	transport, err := mockDialer.Dial(ctx)
	if err != dialError {
		t.Errorf("expected dial error, got: %v", err)
	}
	if transport != nil {
		t.Error("expected nil transport on error")
	}
}

func TestDialerFunc(t *testing.T) {
	want := NewTestTransport()
	var called bool
	dialer := DialerFunc(func(ctx context.Context) (Transport, error) {
		called = true
		return want, nil
	})

	got, err := dialer.Dial(context.Background())
	if err != nil {
		t.Errorf("unexpected dial error: %v", err)
	}
	if !called {
		t.Error("expected the function to be called")
	}
	if got != want {
		t.Error("expected the function's transport to be returned")
	}
}

func TestTestTransport(t *testing.T) {
	tr := NewTestTransport().
		Expect("AT\r\n", "\r\nOK\r\n")

	buf := make([]byte, 16)
	if n, err := tr.Read(buf); n != 0 || err != nil {
		t.Errorf("expected an empty read before any write, got %d, %v", n, err)
	}

	if _, err := tr.Write([]byte("ATI\r\n")); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if n, _ := tr.Read(buf); n != 0 {
		t.Errorf("expected no reply to an unscripted write, got %q", buf[:n])
	}

	if _, err := tr.Write([]byte("AT\r\n")); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	n, err := tr.Read(buf)
	if err != nil || string(buf[:n]) != "\r\nOK\r\n" {
		t.Errorf("expected scripted reply, got %q, %v", buf[:n], err)
	}

	if tr.Pending() != 0 {
		t.Errorf("expected empty script, %d pending", tr.Pending())
	}
	if got := tr.Unexpected(); len(got) != 1 || got[0] != "ATI\r\n" {
		t.Errorf("unexpected writes: %q", got)
	}
	if tr.Written() != "ATI\r\nAT\r\n" {
		t.Errorf("unexpected written bytes: %q", tr.Written())
	}

	tr.Close()
	if _, err := tr.Read(buf); err != io.EOF {
		t.Errorf("expected EOF after close, got %v", err)
	}
	if _, err := tr.Write([]byte("AT\r\n")); err == nil {
		t.Error("expected write error after close")
	}
}
