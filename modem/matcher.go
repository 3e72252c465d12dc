package modem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"i4.energy/across/cellsock/at"
)

// maxPatterns is the number of terminal patterns a single wait may watch.
const maxPatterns = 5

// matchTimeout is the ordinal reported when no pattern matched in time.
const matchTimeout = 0

var (
	patternDataReady    = []byte(at.PatternDataReady)
	patternSocketClosed = []byte(at.PatternSocketClosed)
	crlf                = []byte(at.CRLF)
)

// NotificationKind identifies an unsolicited modem notification.
type NotificationKind int

const (
	// DataReady means the modem holds received bytes for the socket.
	DataReady NotificationKind = iota + 1
	// SocketClosed means the remote end closed the socket.
	SocketClosed
)

func (k NotificationKind) String() string {
	switch k {
	case DataReady:
		return "data_ready"
	case SocketClosed:
		return "socket_closed"
	default:
		return "unknown"
	}
}

// Notification is an unsolicited event concerning a registered socket.
type Notification struct {
	Kind   NotificationKind
	Socket int
}

// await waits for one of patterns and returns its 1-based ordinal, or
// matchTimeout when none arrived within timeout.
func (m *Modem) await(ctx context.Context, timeout time.Duration, patterns ...string) (int, error) {
	n, _, err := m.awaitData(ctx, timeout, patterns...)
	return n, err
}

// awaitOK waits for the final result of a command.
func (m *Modem) awaitOK(ctx context.Context, timeout time.Duration) (int, error) {
	return m.await(ctx, timeout, at.PatternOK, at.PatternError)
}

// awaitData consumes transport bytes until the accumulated response ends
// with one of patterns, checked in order, or until timeout. Every byte is
// first offered to the notification interceptor, so unsolicited output
// interleaved with the response updates socket state and is removed before
// the caller's patterns see it.
//
// The returned data holds what was consumed, the matched pattern trailing.
// A timeout is not an error: it yields matchTimeout with the partial data.
func (m *Modem) awaitData(ctx context.Context, timeout time.Duration, patterns ...string) (int, []byte, error) {
	if len(patterns) > maxPatterns {
		return matchTimeout, nil, fmt.Errorf("%w: %d, at most %d", ErrTooManyPatterns, len(patterns), maxPatterns)
	}
	deadline := time.Now().Add(timeout)
	if err := m.skipUnread(ctx, deadline); err != nil {
		if errors.Is(err, ErrTimeout) {
			m.metrics.timeouts.Inc()
			return matchTimeout, nil, nil
		}
		return matchTimeout, nil, err
	}
	var data []byte

	for {
		if m.in.buffered() == 0 {
			if err := ctx.Err(); err != nil {
				return matchTimeout, data, err
			}
			if !time.Now().Before(deadline) {
				m.metrics.timeouts.Inc()
				return matchTimeout, data, nil
			}
			if err := m.in.fill(); err != nil {
				return matchTimeout, data, err
			}
			if m.in.buffered() == 0 {
				runtime.Gosched()
				continue
			}
		}

		c := m.in.next()
		if c == 0 {
			continue
		}
		data = append(data, c)

		var err error
		if data, err = m.intercept(ctx, data); err != nil {
			return matchTimeout, data, err
		}
		for i, p := range patterns {
			if p != "" && bytes.HasSuffix(data, []byte(p)) {
				return i + 1, data, nil
			}
		}
	}
}

// skipUnread discards the rest of an abandoned payload: the header line,
// the raw bytes and the final result code, in that order. What could not
// be discarded by deadline stays owed for the next wait.
func (m *Modem) skipUnread(ctx context.Context, deadline time.Time) error {
	u := &m.unread
	if u.header {
		if err := m.in.skipUntil(ctx, '\n', deadline); err != nil {
			return err
		}
		u.header = false
	}
	for u.raw > 0 {
		if err := m.in.wait(ctx, 1, deadline); err != nil {
			return err
		}
		k := min(u.raw, m.in.buffered())
		m.in.discard(k)
		u.raw -= k
	}
	for u.result {
		c, err := m.in.readByte(ctx, deadline)
		if err != nil {
			return err
		}
		u.tail = append(u.tail, c)
		if len(u.tail) > len(at.PatternError) {
			u.tail = u.tail[1:]
		}
		if bytes.HasSuffix(u.tail, []byte(at.PatternOK)) || bytes.HasSuffix(u.tail, []byte(at.PatternError)) {
			*u = unreadPayload{}
		}
	}
	return nil
}

// intercept recognizes the data-ready and socket-closed notifications at
// the tail of data and returns data with the notification removed. Only
// transport failures are reported; malformed notifications are dropped.
func (m *Modem) intercept(ctx context.Context, data []byte) ([]byte, error) {
	switch {
	case bytes.HasSuffix(data, patternDataReady):
		// The same prefix starts the answers to AT+CIPRXGET=2 and =4, which
		// the caller is waiting for. Only mode 1 is a notification.
		deadline := time.Now().Add(m.config.ATTimeout)
		mode, err := m.in.peekUntil(ctx, ',', deadline)
		if err != nil {
			return data, ignoreTimeout(err)
		}
		if bytes.IndexByte(mode, '\n') >= 0 || parseInt(string(mode)) != at.RxGetNotify {
			return data, nil
		}
		m.in.discard(len(mode) + 1)
		field, err := m.in.readUntil(ctx, '\n', deadline)
		if err != nil {
			return data, ignoreTimeout(err)
		}
		id := parseInt(field)
		if m.registered(id) != nil {
			m.lastCheck = time.Time{}
			m.notify(Notification{Kind: DataReady, Socket: id})
		}
		return data[:len(data)-len(patternDataReady)], nil

	case bytes.HasSuffix(data, patternSocketClosed):
		body := data[:len(data)-len(patternSocketClosed)]
		start := bytes.LastIndex(body, crlf)
		line := body
		if start >= 0 {
			line = body[start+len(crlf):]
		} else {
			start = 0
		}
		id := -1
		if comma := bytes.IndexByte(line, ','); comma >= 0 {
			id = parseInt(string(line[:comma]))
		}
		if sl := m.registered(id); sl != nil {
			sl.connected = false
			sl.available = 0
			m.notify(Notification{Kind: SocketClosed, Socket: id})
		}
		return data[:start], nil
	}
	return data, nil
}

// notify publishes n without blocking. Notifications are dropped when
// nobody drains the channel.
func (m *Modem) notify(n Notification) {
	m.metrics.notifications.WithLabelValues(n.Kind.String()).Inc()
	m.logger.Debug("notification", "kind", n.Kind.String(), "socket", n.Socket)
	select {
	case m.notifications <- n:
	default:
	}
}

func ignoreTimeout(err error) error {
	if errors.Is(err, ErrTimeout) {
		return nil
	}
	return err
}

// parseInt parses a decimal field, returning -1 when it is not a number.
func parseInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return -1
	}
	return n
}
