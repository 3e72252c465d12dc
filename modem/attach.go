package modem

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"i4.energy/across/cellsock/at"
)

// Bearer holds the packet data credentials of the SIM's operator. An empty
// APN selects the modem's built-in profile, as used by SIMs that configure
// the bearer themselves.
type Bearer struct {
	APN      string `json:"apn" yaml:"apn"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"-" yaml:"password"`
}

// attachStep is one command of the attach sequence. A failing hard step
// aborts the sequence; the result of a soft step is ignored.
type attachStep struct {
	name    string
	cmd     string
	args    []any
	timeout time.Duration
	hard    bool
}

func soft(name string, timeout time.Duration, cmd string, args ...any) attachStep {
	return attachStep{name: name, cmd: cmd, args: args, timeout: timeout}
}

func hard(name string, timeout time.Duration, cmd string, args ...any) attachStep {
	return attachStep{name: name, cmd: cmd, args: args, timeout: timeout, hard: true}
}

// attachSteps returns the sequence that brings up the bearer for b and
// configures multiplexed TCP with manual receive.
func (m *Modem) attachSteps(b Bearer) []attachStep {
	steps := []attachStep{
		soft("shut connections", 60*time.Second, at.CmdShut),
		soft("detach", 60*time.Second, at.CmdDetach),
		soft("bearer type", m.config.ATTimeout, at.CmdBearerType),
	}

	attachTimeout := 60 * time.Second
	task := hard("start task", 60*time.Second, at.CmdTask, b.APN, b.User, b.Password)
	if b.APN == "" {
		attachTimeout = 75 * time.Second
		task = hard("start task", 60*time.Second, at.CmdTaskDefault)
	} else {
		steps = append(steps, soft("bearer apn", m.config.ATTimeout, at.CmdBearerParam, "APN", b.APN))
		if b.User != "" {
			steps = append(steps, soft("bearer user", m.config.ATTimeout, at.CmdBearerParam, "USER", b.User))
		}
		if b.Password != "" {
			steps = append(steps, soft("bearer password", m.config.ATTimeout, at.CmdBearerParam, "PWD", b.Password))
		}
		steps = append(steps, soft("pdp context", m.config.ATTimeout, at.CmdPDPContext, b.APN))
	}

	steps = append(steps,
		soft("pdp activate", 60*time.Second, at.CmdPDPActivate),
		soft("open bearer", 85*time.Second, at.CmdBearerOpen),
		hard("query bearer", 30*time.Second, at.CmdBearerQuery),
		hard("attach", attachTimeout, at.CmdAttach),
		hard("single connection mode", time.Second, at.CmdModeTCP),
		hard("multiplexed mode", time.Second, at.CmdMux),
		hard("quick send mode", time.Second, at.CmdQuickSend),
		hard("manual receive mode", time.Second, at.CmdManualRx),
		task,
		hard("bring up wireless", 60*time.Second, at.CmdWireless),
		hard("local ip", 10*time.Second, at.CmdLocalIP),
	)
	if !m.config.SkipDNS {
		steps = append(steps, hard("configure dns", m.config.ATTimeout, at.CmdDNS,
			m.config.DNSServers[0], m.config.DNSServers[1]))
	}
	return steps
}

// Attach brings up the packet data bearer and configures the modem for
// multiplexed TCP. It must succeed before any socket can connect.
//
// Existing connections are torn down first. A failing mandatory step
// aborts the sequence with ErrAttachFailed; the sequence is then repeated
// up to Config.AttachRetries times.
func (m *Modem) Attach(ctx context.Context, b Bearer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	for attempt := 0; attempt <= m.config.AttachRetries; attempt++ {
		if attempt > 0 {
			m.logger.Warn("attach failed, retrying", "attempt", attempt, "error", err)
			if err := sleep(ctx, m.config.AttachRetryDelay); err != nil {
				return err
			}
		}
		if err = m.attach(ctx, b); err == nil {
			m.logger.Info("bearer attached", "apn", b.APN)
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (m *Modem) attach(ctx context.Context, b Bearer) error {
	for _, step := range m.attachSteps(b) {
		if err := m.runStep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func (m *Modem) runStep(ctx context.Context, step attachStep) error {
	if err := m.send(ctx, step.cmd, step.args...); err != nil {
		return err
	}
	n, err := m.awaitOK(ctx, step.timeout)
	if err != nil {
		return err
	}
	if n != 1 {
		m.logger.Debug("attach step failed", "step", step.name, "hard", step.hard, "result", n)
		if step.hard {
			return fmt.Errorf("%w: %s: %w", ErrAttachFailed, step.name, outcomeErr(n))
		}
	}
	return nil
}

// Detach shuts every connection and detaches from the packet service.
func (m *Modem) Detach(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, step := range []attachStep{
		hard("shut connections", 60*time.Second, at.CmdShut),
		hard("detach", 60*time.Second, at.CmdDetach),
	} {
		if err := m.runStep(ctx, step); err != nil {
			return err
		}
	}
	for id := range m.slots {
		if sl := m.registered(id); sl != nil {
			sl.connected = false
			sl.available = 0
		}
	}
	return nil
}

// Attached reports whether the modem is attached to the packet service and
// holds a local address.
func (m *Modem) Attached(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.send(ctx, at.CmdAttachQuery); err != nil {
		return false, err
	}
	n, err := m.await(ctx, m.config.ATTimeout, at.PatternAttach)
	if err != nil {
		return false, err
	}
	if n != 1 {
		return false, nil
	}
	field, err := m.in.readUntil(ctx, '\n', time.Now().Add(m.config.ATTimeout))
	if err != nil {
		return false, ignoreTimeout(err)
	}
	if _, err := m.awaitOK(ctx, m.config.ATTimeout); err != nil {
		return false, err
	}
	if parseInt(field) != 1 {
		return false, nil
	}

	_, err = m.localIP(ctx)
	if err != nil {
		return false, ignoreResult(err)
	}
	return true, nil
}

// LocalIP returns the address the network assigned to the modem.
func (m *Modem) LocalIP(ctx context.Context) (netip.Addr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localIP(ctx)
}

func (m *Modem) localIP(ctx context.Context) (netip.Addr, error) {
	if err := m.send(ctx, at.CmdLocalIP); err != nil {
		return netip.Addr{}, err
	}
	// The address line is the whole answer; OK comes from the trailing E0.
	n, data, err := m.awaitData(ctx, 10*time.Second, at.PatternOK, at.PatternError)
	if err != nil {
		return netip.Addr{}, err
	}
	if err := outcome(n, at.Build(at.CmdLocalIP)); err != nil {
		return netip.Addr{}, err
	}
	return localIP(string(data))
}

// localIP parses the first address in a captured AT+CIFSR response.
func localIP(resp string) (netip.Addr, error) {
	for _, line := range at.Info(resp) {
		if addr, err := netip.ParseAddr(line); err == nil {
			return addr, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("no local address in %q: %w", strings.TrimSpace(resp), ErrCommandFailed)
}

// Info returns the modem's identification, as reported by ATI.
func (m *Modem) Info(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.send(ctx, at.CmdInfo); err != nil {
		return "", err
	}
	n, data, err := m.awaitData(ctx, m.config.ATTimeout, at.PatternOK, at.PatternError)
	if err != nil {
		return "", err
	}
	if err := outcome(n, at.Build(at.CmdInfo)); err != nil {
		return "", err
	}
	return strings.Join(at.Info(string(data)), " "), nil
}

// ignoreResult drops protocol failures, keeping transport and context
// errors.
func ignoreResult(err error) error {
	if errors.Is(err, ErrCommandFailed) || errors.Is(err, ErrTimeout) {
		return nil
	}
	return err
}
