package modem_test

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"testing"
	"time"

	"i4.energy/across/cellsock/modem"
)

const ok = "\r\nOK\r\n"

// attachCommands lists the commands Attach sends for APN "internet"
// without credentials, with the default name servers.
var attachCommands = []string{
	"AT+CIPSHUT\r\n",
	"AT+CGATT=0\r\n",
	"AT+SAPBR=3,1,\"Contype\",\"GPRS\"\r\n",
	"AT+SAPBR=3,1,\"APN\",\"internet\"\r\n",
	"AT+CGDCONT=1,\"IP\",\"internet\"\r\n",
	"AT+CGACT=1,1\r\n",
	"AT+SAPBR=1,1\r\n",
	"AT+SAPBR=2,1\r\n",
	"AT+CGATT=1\r\n",
	"AT+CIPMODE=0\r\n",
	"AT+CIPMUX=1\r\n",
	"AT+CIPQSEND=1\r\n",
	"AT+CIPRXGET=1\r\n",
	"AT+CSTT=\"internet\",\"\",\"\"\r\n",
	"AT+CIICR\r\n",
	"AT+CIFSR;E0\r\n",
	"AT+CDNSCFG=\"8.8.8.8\",\"8.8.4.4\"\r\n",
}

// expectAttach scripts the attach sequence. replies overrides the answer
// to individual commands; a command mapped to "" stops the script there.
func expectAttach(tr *modem.TestTransport, commands []string, replies map[string]string) {
	for _, cmd := range commands {
		reply := ok
		switch cmd {
		case "AT+CIPSHUT\r\n":
			reply = "\r\nSHUT OK\r\n"
		case "AT+SAPBR=2,1\r\n":
			reply = "\r\n+SAPBR: 1,1,\"10.64.12.7\"\r\n" + ok
		case "AT+CIFSR;E0\r\n":
			reply = "\r\n10.64.12.7\r\n" + ok
		}
		if r, found := replies[cmd]; found {
			if r == "" {
				return
			}
			reply = r
		}
		tr.Expect(cmd, reply)
	}
}

func TestAttach(t *testing.T) {
	ctx := context.Background()
	bearer := modem.Bearer{APN: "internet"}

	t.Run("Full sequence", func(t *testing.T) {
		m, tr := newTestModem(t)
		expectAttach(tr, attachCommands, nil)

		if err := m.Attach(ctx, bearer); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertScriptDone(t, tr)
	})

	t.Run("Teardown failures are ignored", func(t *testing.T) {
		m, tr := newTestModem(t)
		expectAttach(tr, attachCommands, map[string]string{
			"AT+CIPSHUT\r\n":   "\r\nERROR\r\n",
			"AT+CGATT=0\r\n":   "\r\nERROR\r\n",
			"AT+CGACT=1,1\r\n": "\r\nERROR\r\n",
		})

		if err := m.Attach(ctx, bearer); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertScriptDone(t, tr)
	})

	t.Run("Hard step aborts the sequence", func(t *testing.T) {
		m, tr := newTestModem(t)
		expectAttach(tr, attachCommands, map[string]string{
			"AT+CGATT=1\r\n":   "\r\nERROR\r\n",
			"AT+CIPMODE=0\r\n": "",
		})

		err := m.Attach(ctx, bearer)
		if !errors.Is(err, modem.ErrAttachFailed) {
			t.Errorf("expected ErrAttachFailed, got: %v", err)
		}
		if !errors.Is(err, modem.ErrCommandFailed) {
			t.Errorf("expected the step's ErrCommandFailed, got: %v", err)
		}
		if strings.Contains(tr.Written(), "CIPMUX") {
			t.Error("steps after the failure should not run")
		}
		assertScriptDone(t, tr)
	})

	t.Run("Retries", func(t *testing.T) {
		m, tr := newTestModem(t, func(b *modem.ConfigBuilder) {
			b.WithAttachRetries(1, time.Millisecond)
		})
		expectAttach(tr, attachCommands, map[string]string{
			"AT+SAPBR=2,1\r\n": "\r\nERROR\r\n",
			"AT+CGATT=1\r\n":   "",
		})
		expectAttach(tr, attachCommands, nil)

		if err := m.Attach(ctx, bearer); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertScriptDone(t, tr)
	})

	t.Run("Credentials", func(t *testing.T) {
		m, tr := newTestModem(t, func(b *modem.ConfigBuilder) {
			b.WithoutDNS()
		})
		commands := []string{
			"AT+CIPSHUT\r\n",
			"AT+CGATT=0\r\n",
			"AT+SAPBR=3,1,\"Contype\",\"GPRS\"\r\n",
			"AT+SAPBR=3,1,\"APN\",\"web.example\"\r\n",
			"AT+SAPBR=3,1,\"USER\",\"user\"\r\n",
			"AT+SAPBR=3,1,\"PWD\",\"secret\"\r\n",
			"AT+CGDCONT=1,\"IP\",\"web.example\"\r\n",
			"AT+CGACT=1,1\r\n",
			"AT+SAPBR=1,1\r\n",
			"AT+SAPBR=2,1\r\n",
			"AT+CGATT=1\r\n",
			"AT+CIPMODE=0\r\n",
			"AT+CIPMUX=1\r\n",
			"AT+CIPQSEND=1\r\n",
			"AT+CIPRXGET=1\r\n",
			"AT+CSTT=\"web.example\",\"user\",\"secret\"\r\n",
			"AT+CIICR\r\n",
			"AT+CIFSR;E0\r\n",
		}
		expectAttach(tr, commands, nil)

		if err := m.Attach(ctx, modem.Bearer{APN: "web.example", User: "user", Password: "secret"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertScriptDone(t, tr)
	})

	t.Run("Built-in profile", func(t *testing.T) {
		m, tr := newTestModem(t, func(b *modem.ConfigBuilder) {
			b.WithoutDNS()
		})
		commands := []string{
			"AT+CIPSHUT\r\n",
			"AT+CGATT=0\r\n",
			"AT+SAPBR=3,1,\"Contype\",\"GPRS\"\r\n",
			"AT+CGACT=1,1\r\n",
			"AT+SAPBR=1,1\r\n",
			"AT+SAPBR=2,1\r\n",
			"AT+CGATT=1\r\n",
			"AT+CIPMODE=0\r\n",
			"AT+CIPMUX=1\r\n",
			"AT+CIPQSEND=1\r\n",
			"AT+CIPRXGET=1\r\n",
			"AT+CSTT\r\n",
			"AT+CIICR\r\n",
			"AT+CIFSR;E0\r\n",
		}
		expectAttach(tr, commands, nil)

		if err := m.Attach(ctx, modem.Bearer{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertScriptDone(t, tr)
	})
}

func TestDetach(t *testing.T) {
	ctx := context.Background()

	t.Run("Disconnects sockets", func(t *testing.T) {
		m, tr := newTestModem(t)
		connectedSocket(t, m, tr)

		tr.Expect("AT+CIPSHUT\r\n", "\r\nSHUT OK\r\n")
		tr.Expect("AT+CGATT=0\r\n", ok)
		if err := m.Detach(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.Sockets()[0].Connected {
			t.Error("socket should be disconnected")
		}
		assertScriptDone(t, tr)
	})

	t.Run("Failure", func(t *testing.T) {
		m, tr := newTestModem(t)

		tr.Expect("AT+CIPSHUT\r\n", "\r\nERROR\r\n")
		if err := m.Detach(ctx); !errors.Is(err, modem.ErrAttachFailed) {
			t.Errorf("expected ErrAttachFailed, got: %v", err)
		}
	})
}

func TestAttached(t *testing.T) {
	ctx := context.Background()

	t.Run("Attached with an address", func(t *testing.T) {
		m, tr := newTestModem(t)
		tr.Expect("AT+CGATT?\r\n", "\r\n+CGATT: 1\r\n"+ok)
		tr.Expect("AT+CIFSR;E0\r\n", "\r\n10.64.12.7\r\n"+ok)

		attached, err := m.Attached(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !attached {
			t.Error("expected attached")
		}
		assertScriptDone(t, tr)
	})

	t.Run("Detached", func(t *testing.T) {
		m, tr := newTestModem(t)
		tr.Expect("AT+CGATT?\r\n", "\r\n+CGATT: 0\r\n"+ok)

		attached, err := m.Attached(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attached {
			t.Error("expected detached")
		}
		assertScriptDone(t, tr)
	})

	t.Run("No address", func(t *testing.T) {
		m, tr := newTestModem(t)
		tr.Expect("AT+CGATT?\r\n", "\r\n+CGATT: 1\r\n"+ok)
		tr.Expect("AT+CIFSR;E0\r\n", "\r\nERROR\r\n")

		attached, err := m.Attached(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attached {
			t.Error("expected not attached without an address")
		}
	})
}

func TestLocalIP(t *testing.T) {
	m, tr := newTestModem(t)
	tr.Expect("AT+CIFSR;E0\r\n", "AT+CIFSR;E0\r\r\n10.64.12.7\r\n"+ok)

	addr, err := m.LocalIP(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != netip.MustParseAddr("10.64.12.7") {
		t.Errorf("unexpected address: %v", addr)
	}
}
