package at

const (
	// Terminal Control
	CRLF   = "\r\n"
	Prompt = "> "

	// Response Codes
	OK             = "OK"
	ERROR          = "ERROR"
	ConnectOK      = "CONNECT OK"
	ConnectFail    = "CONNECT FAIL"
	AlreadyConnect = "ALREADY CONNECT"
	CloseOK        = "CLOSE OK"
	ShutOK         = "SHUT OK"
	CmeError       = "+CME ERROR:"

	// Information responses
	RxGet      = "+CIPRXGET:"
	Status     = "+CIPSTATUS:"
	Attach     = "+CGATT:"
	DataAccept = "DATA ACCEPT:"

	// URCs (Unsolicited Result Codes)
	UrcClosed = "CLOSED"

	// RxGetNotify is the mode field of a +CIPRXGET URC announcing that a
	// socket has data waiting to be fetched.
	RxGetNotify = 1
)

// Terminal patterns. They are matched against the tail of the bytes received
// since a command was issued, so the line terminator is part of the pattern
// where the modem emits one.
const (
	PatternOK             = OK + CRLF
	PatternError          = ERROR + CRLF
	PatternConnectOK      = ConnectOK + CRLF
	PatternConnectFail    = ConnectFail + CRLF
	PatternAlreadyConnect = AlreadyConnect + CRLF
	PatternCloseOK        = CloseOK + CRLF
	PatternPrompt         = ">"
	PatternDataAccept     = CRLF + DataAccept
	PatternRxGet          = RxGet
	PatternAttach         = CRLF + Attach

	// Connection states reported by AT+CIPSTATUS=<n>
	PatternConnected = `,"CONNECTED"`
	PatternClosed    = `,"CLOSED"`
	PatternClosing   = `,"CLOSING"`
	PatternInitial   = `,"INITIAL"`

	// Notification markers
	PatternDataReady    = CRLF + RxGet
	PatternSocketClosed = UrcClosed + CRLF
)

type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK, ERROR, CONNECT OK, ...
	TypeURC                        // Asynchronous notifications
	TypeData                       // Intermediate command output (+CIPRXGET: 4,0,12)
	TypePrompt                     // Send data prompt
	TypeEcho                       // Command echo while ATE1 is active
)
