package modem_test

import (
	gomock "go.uber.org/mock/gomock"
	"i4.energy/across/cellsock/modem"
)

type MockSequenceBuilder struct {
	transport *modem.MockTransport
	calls     []any
}

func NewMockSequence(transport *modem.MockTransport) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		transport: transport,
		calls:     []any{},
	}
}

// Exchange expects cmd to be written and flushed, then answers resp on the
// next read.
func (b *MockSequenceBuilder) Exchange(cmd, resp string) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().Write([]byte(cmd)).Return(len(cmd), nil),
		b.transport.EXPECT().Drain().Return(nil),
		b.transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			return copy(p, resp), nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.Exchange("AT\r\n", "AT\r\r\nOK\r\n")
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	return b.Exchange("ATE0\r\n", "ATE0\r\r\nOK\r\n")
}

func (b *MockSequenceBuilder) Info() *MockSequenceBuilder {
	return b.Exchange("ATI\r\n", "\r\nSIM800 R14.18\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) LocalIP(addr string) *MockSequenceBuilder {
	return b.Exchange("AT+CIFSR;E0\r\n", "\r\n"+addr+"\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}

func initMockCalls(transport *modem.MockTransport) []any {
	return NewMockSequence(transport).
		AT().
		EchoOff().
		Build()
}
