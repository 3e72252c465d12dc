package modem

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"i4.energy/across/cellsock/at"
	"i4.energy/across/cellsock/ring"
)

// MaxSockets is the number of sockets the modem multiplexes over its
// single transport. Socket ids run from 0 to MaxSockets-1.
const MaxSockets = 6

const (
	// probeWait bounds each bare AT sent while probing the modem.
	probeWait = 200 * time.Millisecond
	// probeSpacing separates probe attempts and settles a successful one.
	probeSpacing = 100 * time.Millisecond
)

// Modem represents a SIM800-class cellular modem driven with AT commands
// over a serial transport. It multiplexes up to MaxSockets TCP sockets over
// that transport.
//
// Exactly one command is in flight at a time: every exported method holds
// the modem lock for the whole command/response exchange, including the
// interception of unsolicited notifications, so a Modem and its Sockets may
// be shared between goroutines.
type Modem struct {
	mu sync.Mutex
	// transport provides the physical connection to the modem
	transport Transport
	// in buffers transport bytes that were read but not consumed yet
	in      *input
	config  Config
	logger  *slog.Logger
	metrics *modemMetrics
	// closed indicates if the modem has been shut down
	closed bool
	// slots is the socket table, indexed by multiplex id
	slots [MaxSockets]slot
	// lastCheck is when the sockets were last polled for available data
	lastCheck time.Time
	// notifications receives unsolicited socket events
	notifications chan Notification
	// unread is what remains of an interrupted receive
	unread unreadPayload
}

// unreadPayload is the remainder of an AT+CIPRXGET=2 response that was
// abandoned while the modem was still sending it. It is raw socket data
// and must never reach the matcher.
type unreadPayload struct {
	// header is set while the rest of the header line is outstanding
	header bool
	// raw is the number of payload bytes still owed
	raw int
	// result is set while the final result code is outstanding
	result bool
	tail   []byte
}

// slot is one entry of the socket table. The Socket handed to the caller
// only names the slot; all socket state lives here. gen changes on every
// registration so that handles to a released socket stay dead even after
// the id is reused.
type slot struct {
	used      bool
	gen       uint64
	ssl       bool
	connected bool
	// available is the byte count the modem last reported for the socket
	available int
	rx        *ring.Buffer[byte]
}

// New creates a new Modem instance with the given configuration.
// It establishes the transport connection and probes the modem until it
// answers, then disables command echo.
//
// Returns an error if the transport connection or modem initialization
// fails.
func New(ctx context.Context, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	m := &Modem{
		transport:     transport,
		in:            newInput(transport),
		config:        config,
		logger:        config.Logger,
		metrics:       newModemMetrics(),
		notifications: make(chan Notification, 100), // Buffered to prevent blocking on notifications
	}

	if err := m.init(ctx); err != nil {
		transport.Close()
		return nil, fmt.Errorf("initialize modem: %w", err)
	}

	if config.Registerer != nil {
		if err := m.metrics.register(config.Registerer); err != nil {
			transport.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	return m, nil
}

// init performs the initial setup sequence for the modem hardware.
func (m *Modem) init(ctx context.Context) error {
	if err := m.probe(ctx, m.config.InitTimeout); err != nil {
		return err
	}
	if err := m.expectOK(ctx, m.config.ATTimeout, at.CmdEchoOff); err != nil {
		return fmt.Errorf("could not disable echo: %w", err)
	}
	return nil
}

// Notifications returns a read-only channel that receives unsolicited
// socket events. The channel is buffered, but events are dropped when it
// is not consumed fast enough.
func (m *Modem) Notifications() <-chan Notification {
	return m.notifications
}

// Close releases the transport. After calling Close, the modem and its
// sockets cannot be reused.
func (m *Modem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrAlreadyClosed
	}
	m.closed = true

	if m.transport != nil {
		return m.transport.Close()
	}
	return nil
}

// Probe sends bare AT commands until the modem answers OK or timeout
// elapses.
func (m *Modem) Probe(ctx context.Context, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probe(ctx, timeout)
}

func (m *Modem) probe(ctx context.Context, timeout time.Duration) error {
	for start := time.Now(); time.Since(start) < timeout; {
		if err := m.send(ctx, at.CmdAt); err != nil {
			return err
		}
		n, err := m.awaitOK(ctx, probeWait)
		if err != nil {
			return err
		}
		if err := sleep(ctx, probeSpacing); err != nil {
			return err
		}
		if n == 1 {
			return nil
		}
	}
	return ErrNotResponding
}

// Exec issues cmd, given without the AT prefix, and waits up to timeout for
// one of patterns, or for OK and ERROR when no patterns are given. It
// returns the 1-based ordinal of the pattern that matched, 0 on timeout,
// and the raw response.
//
// Exec is the primitive for commands this package has no dedicated method
// for. Unsolicited notifications in the response are handled as usual and
// removed from it.
func (m *Modem) Exec(ctx context.Context, cmd string, timeout time.Duration, patterns ...string) (int, string, error) {
	if len(patterns) > maxPatterns {
		return matchTimeout, "", fmt.Errorf("%w: %d, at most %d", ErrTooManyPatterns, len(patterns), maxPatterns)
	}
	if len(patterns) == 0 {
		patterns = []string{at.PatternOK, at.PatternError}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.send(ctx, cmd); err != nil {
		return matchTimeout, "", err
	}
	n, data, err := m.awaitData(ctx, timeout, patterns...)
	return n, string(data), err
}

// Maintain polls every registered socket for data waiting in the modem and
// processes pending notifications. The poll runs at most once per
// MaintainInterval; notifications are processed on every call.
//
// Socket operations call Maintain themselves. Call it periodically when no
// socket is in use to keep connection state current.
func (m *Modem) Maintain(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maintain(ctx)
}

func (m *Modem) maintain(ctx context.Context) error {
	if m.closed {
		return ErrAlreadyClosed
	}

	if time.Since(m.lastCheck) > m.config.MaintainInterval {
		m.lastCheck = time.Now()
		for id := range m.slots {
			sl := m.registered(id)
			if sl == nil {
				continue
			}
			n, err := m.modemGetAvailable(ctx, id, sl)
			if err != nil {
				return err
			}
			sl.available = n
		}
	}

	for {
		ok, err := m.in.available()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if _, _, err := m.awaitData(ctx, m.config.DrainTimeout); err != nil {
			return err
		}
	}
}

// NewSocket registers a socket on multiplex id. The registration lasts
// until Release; the socket may connect and stop any number of times.
func (m *Modem) NewSocket(id int, ssl bool) (*Socket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.register(id, ssl)
}

// NextSocket registers a socket on the lowest free multiplex id.
func (m *Modem) NextSocket(ssl bool) (*Socket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.slots {
		if !m.slots[id].used {
			return m.register(id, ssl)
		}
	}
	return nil, ErrNoFreeSocket
}

func (m *Modem) register(id int, ssl bool) (*Socket, error) {
	if id < 0 || id >= MaxSockets {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSocketID, id)
	}
	sl := &m.slots[id]
	if sl.used {
		return nil, fmt.Errorf("%w: %d", ErrSocketInUse, id)
	}

	if sl.rx == nil {
		sl.rx = ring.New[byte](m.config.RxBufferSize)
	}
	sl.rx.Clear()
	sl.used = true
	sl.gen++
	sl.ssl = ssl
	sl.connected = false
	sl.available = 0

	m.logger.Debug("socket registered", "socket", id, "ssl", ssl)
	return &Socket{m: m, id: id, gen: sl.gen}, nil
}

// registered returns the slot of the socket on id, or nil when the id is
// out of range or free.
func (m *Modem) registered(id int) *slot {
	if id < 0 || id >= MaxSockets || !m.slots[id].used {
		return nil
	}
	return &m.slots[id]
}

// SocketState is a snapshot of a registered socket.
type SocketState struct {
	ID        int  `json:"id"`
	SSL       bool `json:"ssl"`
	Connected bool `json:"connected"`
	// Available is the last byte count reported by the modem.
	Available int `json:"available"`
	// Buffered is the number of bytes received but not read yet.
	Buffered int `json:"buffered"`
}

// Sockets returns the state of every registered socket, ordered by id,
// without querying the modem.
func (m *Modem) Sockets() []SocketState {
	m.mu.Lock()
	defer m.mu.Unlock()
	var states []SocketState
	for id := range m.slots {
		if sl := m.registered(id); sl != nil {
			states = append(states, SocketState{
				ID:        id,
				SSL:       sl.ssl,
				Connected: sl.connected,
				Available: sl.available,
				Buffered:  sl.rx.Size(),
			})
		}
	}
	return states
}

// modemGetAvailable asks the modem how many received bytes it holds for
// socket id. When there are none, the connection state is refreshed too.
func (m *Modem) modemGetAvailable(ctx context.Context, id int, sl *slot) (int, error) {
	if err := m.send(ctx, at.CmdAvailable, id); err != nil {
		return 0, err
	}
	n, err := m.await(ctx, m.config.ATTimeout, at.PatternRxGet, at.PatternError)
	if err != nil {
		return 0, err
	}

	result := 0
	if n == 1 {
		// +CIPRXGET: 4,<id>,<count>
		deadline := time.Now().Add(m.config.ATTimeout)
		if err := m.skipFields(ctx, 2, deadline); err != nil {
			return 0, ignoreTimeout(err)
		}
		field, err := m.in.readUntil(ctx, '\n', deadline)
		if err != nil {
			return 0, ignoreTimeout(err)
		}
		result = max(parseInt(field), 0)
		if _, err := m.awaitOK(ctx, m.config.ATTimeout); err != nil {
			return 0, err
		}
	}

	if result == 0 {
		connected, err := m.modemGetConnected(ctx, id)
		if err != nil {
			return 0, err
		}
		sl.connected = connected
	}
	return result, nil
}

// modemGetConnected reports whether the modem considers socket id
// connected.
func (m *Modem) modemGetConnected(ctx context.Context, id int) (bool, error) {
	if err := m.send(ctx, at.CmdStatus, id); err != nil {
		return false, err
	}
	n, err := m.await(ctx, m.config.ATTimeout,
		at.PatternConnected, at.PatternClosed, at.PatternClosing, at.PatternInitial)
	if err != nil {
		return false, err
	}
	if n != matchTimeout {
		if _, err := m.awaitOK(ctx, m.config.ATTimeout); err != nil {
			return false, err
		}
	}
	return n == 1, nil
}

// skipFields consumes n comma-terminated fields of the response being read.
func (m *Modem) skipFields(ctx context.Context, n int, deadline time.Time) error {
	for range n {
		if err := m.in.skipUntil(ctx, ',', deadline); err != nil {
			return err
		}
	}
	return nil
}

// send writes one command line and flushes the transport.
func (m *Modem) send(ctx context.Context, body string, args ...any) error {
	if m.closed {
		return ErrAlreadyClosed
	}
	if m.transport == nil {
		return ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := at.Build(body, args...)
	line := strings.TrimSpace(string(cmd))
	m.logger.Debug("send command", "command", line)
	m.metrics.commands.Inc()

	if _, err := m.transport.Write(cmd); err != nil {
		return fmt.Errorf("write command %q: %w", line, err)
	}
	if err := m.transport.Drain(); err != nil {
		return fmt.Errorf("flush command %q: %w", line, err)
	}
	return nil
}

// expectOK sends a command and requires OK within timeout.
func (m *Modem) expectOK(ctx context.Context, timeout time.Duration, body string, args ...any) error {
	if err := m.send(ctx, body, args...); err != nil {
		return err
	}
	n, err := m.awaitOK(ctx, timeout)
	if err != nil {
		return err
	}
	return outcome(n, at.Build(body, args...))
}

// outcome maps the ordinal of an OK/ERROR wait to an error.
func outcome(n int, cmd []byte) error {
	line := strings.TrimSpace(string(cmd))
	switch n {
	case 1:
		return nil
	case matchTimeout:
		return fmt.Errorf("%s: %w", line, ErrTimeout)
	default:
		return fmt.Errorf("%s: %w", line, ErrCommandFailed)
	}
}

// sleep pauses for d unless ctx ends first.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
