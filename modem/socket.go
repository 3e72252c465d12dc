package modem

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"time"

	"i4.energy/across/cellsock/at"
)

// maxSendSize is the largest payload the modem accepts per AT+CIPSEND.
const maxSendSize = 1460

// Socket is a TCP connection multiplexed over the modem's transport. It is
// a handle to one slot of the modem's socket table; obtain it with
// Modem.NewSocket or Modem.NextSocket.
//
// A Socket stays registered across Connect and Stop and may be reconnected
// any number of times. Release frees its id. Received bytes are staged in a
// fixed-size ring until read.
type Socket struct {
	m   *Modem
	id  int
	gen uint64
}

// ID returns the socket's multiplex id.
func (s *Socket) ID() int {
	return s.id
}

// slot returns the socket's table entry. The caller must hold the modem
// lock.
func (s *Socket) slot() (*slot, error) {
	sl := s.m.registered(s.id)
	if sl == nil || sl.gen != s.gen {
		return nil, ErrSocketReleased
	}
	return sl, nil
}

// SSL reports whether the socket connects with SSL.
func (s *Socket) SSL() bool {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sl, err := s.slot()
	return err == nil && sl.ssl
}

// Connect opens a TCP connection to host:port. It fails with
// ErrConnectFailed when the modem reports the connection failed, and with
// ErrTimeout when no result arrived within the connect timeout.
//
// Connecting an already connected socket succeeds.
func (s *Socket) Connect(ctx context.Context, host string, port uint16) error {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	sl, err := s.slot()
	if err != nil {
		return err
	}
	sl.rx.Clear()

	sl.connected, err = m.modemConnect(ctx, s.id, sl.ssl, host, port)
	if err != nil {
		return fmt.Errorf("connect socket %d to %s: %w", s.id, hostPort(host, port), err)
	}
	m.logger.Info("socket connected", "socket", s.id, "address", hostPort(host, port))
	return nil
}

// ConnectAddr opens a TCP connection to addr.
func (s *Socket) ConnectAddr(ctx context.Context, addr netip.AddrPort) error {
	return s.Connect(ctx, addr.Addr().String(), addr.Port())
}

// Send hands p to the modem for transmission and returns the number of
// bytes it accepted, which may be less than len(p).
func (s *Socket) Send(ctx context.Context, p []byte) (int, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := s.slot(); err != nil {
		return 0, err
	}
	if err := m.maintain(ctx); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	return m.modemSend(ctx, s.id, p)
}

// Write implements io.Writer. It sends p in as many pieces as the modem
// requires.
func (s *Socket) Write(p []byte) (int, error) {
	var written int
	for written < len(p) {
		n, err := s.Send(context.Background(), p[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

// Recv reads up to len(p) received bytes into p. Buffered bytes are
// returned first; when the buffer runs dry and the modem holds more data
// for the socket, it is fetched into the buffer. Recv does not wait for
// data to arrive: a fetch that yields nothing ends the call with what was
// read so far, possibly nothing.
func (s *Socket) Recv(ctx context.Context, p []byte) (int, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	sl, err := s.slot()
	if err != nil {
		return 0, err
	}
	if err := m.maintain(ctx); err != nil {
		return 0, err
	}

	var cnt int
	for cnt < len(p) {
		if n := sl.rx.GetSlice(p[cnt:]); n > 0 {
			cnt += n
			continue
		}
		if err := m.maintain(ctx); err != nil {
			return cnt, err
		}
		if sl.available <= 0 {
			break
		}
		n, err := m.modemRead(ctx, s.id, sl)
		if err != nil {
			return cnt, err
		}
		if n == 0 {
			break
		}
	}
	return cnt, nil
}

// Read implements io.Reader. It returns io.EOF once the socket is closed
// and every received byte has been read. A zero count with a nil error
// means no data has arrived yet.
func (s *Socket) Read(p []byte) (int, error) {
	ctx := context.Background()
	n, err := s.Recv(ctx, p)
	if n > 0 || err != nil || len(p) == 0 {
		return n, err
	}

	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	avail, err := s.available(ctx)
	if err != nil {
		return 0, err
	}
	sl, err := s.slot()
	if err != nil {
		return 0, err
	}
	if avail == 0 && !sl.connected {
		return 0, io.EOF
	}
	return 0, nil
}

// Available returns the number of bytes that can be read: the buffered
// bytes plus the count last reported by the modem. The modem count may be
// stale, so it is an estimate.
func (s *Socket) Available(ctx context.Context) (int, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	return s.available(ctx)
}

func (s *Socket) available(ctx context.Context) (int, error) {
	sl, err := s.slot()
	if err != nil {
		return 0, err
	}
	if sl.rx.Size() == 0 && sl.connected {
		if err := s.m.maintain(ctx); err != nil {
			return 0, err
		}
	}
	return sl.rx.Size() + sl.available, nil
}

// Connected reports whether the socket is connected or still has bytes to
// be read. A socket closed by the peer counts as connected until its
// remaining data is consumed.
func (s *Socket) Connected(ctx context.Context) bool {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := s.available(ctx)
	if err != nil {
		return false
	}
	if n > 0 {
		return true
	}
	sl, err := s.slot()
	return err == nil && sl.connected
}

// Stop closes the connection and discards buffered data. The socket stays
// registered and may connect again. Stopping a socket that is not connected
// is not an error; only transport failures are reported.
func (s *Socket) Stop(ctx context.Context) error {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	sl, err := s.slot()
	if err != nil {
		return err
	}
	return m.modemClose(ctx, s.id, sl)
}

// Close implements io.Closer. It is Stop with a background context.
func (s *Socket) Close() error {
	return s.Stop(context.Background())
}

// Flush drains the transport's output.
func (s *Socket) Flush() error {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := s.slot(); err != nil {
		return err
	}
	if m.closed {
		return ErrAlreadyClosed
	}
	return m.transport.Drain()
}

// Release frees the socket's id for another socket. The connection is not
// closed; call Stop first. The Socket must not be used afterwards.
func (s *Socket) Release() error {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	sl, err := s.slot()
	if err != nil {
		return err
	}
	sl.used = false
	sl.connected = false
	sl.available = 0
	sl.rx.Clear()
	m.logger.Debug("socket released", "socket", s.id)
	return nil
}

// modemConnect configures SSL and starts a connection for socket id. It
// reports whether the socket is connected afterwards.
func (m *Modem) modemConnect(ctx context.Context, id int, ssl bool, host string, port uint16) (bool, error) {
	if err := m.send(ctx, at.CmdSSL, at.Flag(ssl)); err != nil {
		return false, err
	}
	rsp, err := m.awaitOK(ctx, m.config.ATTimeout)
	if err != nil {
		return false, err
	}
	if ssl && rsp != 1 {
		return false, fmt.Errorf("enable ssl: %w", outcomeErr(rsp))
	}

	if err := m.send(ctx, at.CmdStart, id, host, port); err != nil {
		return false, err
	}
	rsp, err = m.await(ctx, m.config.ConnectTimeout,
		at.PatternConnectOK,
		at.PatternConnectFail,
		at.PatternAlreadyConnect,
		at.PatternError,
		at.PatternCloseOK, // the modem closes the socket when the SSL handshake fails
	)
	if err != nil {
		return false, err
	}
	switch rsp {
	case 1, 3:
		return true, nil
	case 2, 5:
		return false, ErrConnectFailed
	default:
		return false, outcomeErr(rsp)
	}
}

// modemSend transmits p on socket id and returns the accepted byte count.
func (m *Modem) modemSend(ctx context.Context, id int, p []byte) (int, error) {
	if len(p) > maxSendSize {
		p = p[:maxSendSize]
	}
	if err := m.send(ctx, at.CmdSend, id, len(p)); err != nil {
		return 0, err
	}
	rsp, err := m.await(ctx, m.config.ATTimeout, at.PatternPrompt, at.PatternError)
	if err != nil {
		return 0, err
	}
	if rsp != 1 {
		return 0, fmt.Errorf("send on socket %d: %w", id, outcomeErr(rsp))
	}

	if _, err := m.transport.Write(p); err != nil {
		return 0, fmt.Errorf("write payload: %w", err)
	}
	if err := m.transport.Drain(); err != nil {
		return 0, fmt.Errorf("flush payload: %w", err)
	}

	rsp, err = m.await(ctx, m.config.ATTimeout, at.PatternDataAccept, at.PatternError)
	if err != nil {
		return 0, err
	}
	if rsp != 1 {
		return 0, fmt.Errorf("send on socket %d: %w", id, outcomeErr(rsp))
	}

	// DATA ACCEPT:<id>,<accepted>
	deadline := time.Now().Add(m.config.ATTimeout)
	if err := m.skipFields(ctx, 1, deadline); err != nil {
		return 0, err
	}
	field, err := m.in.readUntil(ctx, '\n', deadline)
	if err != nil {
		return 0, err
	}
	n := max(parseInt(field), 0)
	m.metrics.bytesSent.Add(float64(n))
	if n < len(p) {
		m.logger.Debug("partial send", "socket", id, "requested", len(p), "accepted", n)
	}
	return n, nil
}

// modemRead fetches as many bytes as fit the socket's ring. It returns the
// number of bytes the modem delivered.
func (m *Modem) modemRead(ctx context.Context, id int, sl *slot) (int, error) {
	if err := m.send(ctx, at.CmdRead, id, sl.rx.Free()); err != nil {
		return 0, err
	}
	rsp, err := m.await(ctx, m.config.ATTimeout, at.PatternRxGet, at.PatternError)
	if err != nil {
		return 0, err
	}
	if rsp != 1 {
		return 0, nil
	}

	// +CIPRXGET: 2,<id>,<len>,<remaining>\r\n<payload>\r\nOK\r\n
	deadline := time.Now().Add(m.config.ATTimeout)
	if err := m.skipFields(ctx, 2, deadline); err != nil {
		return 0, ignoreTimeout(err)
	}
	field, err := m.in.readUntil(ctx, ',', deadline)
	if err != nil {
		return 0, ignoreTimeout(err)
	}
	n := max(parseInt(field), 0)
	field, err = m.in.readUntil(ctx, '\n', deadline)
	if err != nil {
		m.unread = unreadPayload{header: true, raw: n, result: true}
		return 0, ignoreTimeout(err)
	}
	sl.available = max(parseInt(field), 0)

	var dropped int
	for i := 0; i < n; i++ {
		c, err := m.in.readByte(ctx, deadline)
		if err != nil {
			m.unread = unreadPayload{raw: n - i, result: true}
			m.metrics.bytesReceived.Add(float64(i))
			return i, ignoreTimeout(err)
		}
		if !sl.rx.Put(c) {
			dropped++
		}
	}
	m.metrics.bytesReceived.Add(float64(n))
	if dropped > 0 {
		m.metrics.bytesDropped.Add(float64(dropped))
		m.logger.Warn("receive buffer full, bytes dropped", "socket", id, "dropped", dropped)
	}

	if _, err := m.awaitOK(ctx, m.config.ATTimeout); err != nil {
		return n, err
	}
	return n, nil
}

// modemClose closes socket id and resets its state. Result codes are not
// checked: the socket may already be closed.
func (m *Modem) modemClose(ctx context.Context, id int, sl *slot) error {
	if err := m.send(ctx, at.CmdClose, id); err != nil {
		return err
	}
	sl.connected = false
	sl.available = 0
	_, err := m.awaitOK(ctx, m.config.ATTimeout)
	sl.rx.Clear()
	return err
}

// outcomeErr maps a non-success ordinal of an OK/ERROR style wait to an
// error.
func outcomeErr(rsp int) error {
	if rsp == matchTimeout {
		return ErrTimeout
	}
	return ErrCommandFailed
}

func hostPort(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}
