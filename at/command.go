package at

import (
	"fmt"
	"strings"
)

// Command bodies, without the AT prefix. Bodies containing verbs are
// rendered with fmt.Sprintf by Build.
const (
	CmdAt          = ""
	CmdEchoOff     = "E0"
	CmdInfo        = "I"
	CmdSSL         = "+CIPSSL=%d"
	CmdStart       = `+CIPSTART=%d,"TCP","%s",%d`
	CmdSend        = "+CIPSEND=%d,%d"
	CmdClose       = "+CIPCLOSE=%d"
	CmdRead        = "+CIPRXGET=2,%d,%d"
	CmdAvailable   = "+CIPRXGET=4,%d"
	CmdStatus      = "+CIPSTATUS=%d"
	CmdShut        = "+CIPSHUT"
	CmdDetach      = "+CGATT=0"
	CmdAttach      = "+CGATT=1"
	CmdAttachQuery = "+CGATT?"
	CmdBearerType  = `+SAPBR=3,1,"Contype","GPRS"`
	CmdBearerParam = `+SAPBR=3,1,"%s","%s"`
	CmdPDPContext  = `+CGDCONT=1,"IP","%s"`
	CmdPDPActivate = "+CGACT=1,1"
	CmdBearerOpen  = "+SAPBR=1,1"
	CmdBearerQuery = "+SAPBR=2,1"
	CmdModeTCP     = "+CIPMODE=0"
	CmdMux         = "+CIPMUX=1"
	CmdQuickSend   = "+CIPQSEND=1"
	CmdManualRx    = "+CIPRXGET=1"
	CmdTask        = `+CSTT="%s","%s","%s"`
	CmdTaskDefault = "+CSTT"
	CmdWireless    = "+CIICR"
	CmdLocalIP     = "+CIFSR;E0"
	CmdDNS         = `+CDNSCFG="%s","%s"`
)

// Build renders a complete command line: the AT prefix, the body formatted
// with args and the CRLF terminator.
func Build(body string, args ...any) []byte {
	if len(args) > 0 {
		body = fmt.Sprintf(body, args...)
	}
	return []byte("AT" + body + CRLF)
}

// Flag renders a boolean command parameter.
func Flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Info returns the information lines of a captured response: everything
// that is neither a final result code, an echo of the command, nor an
// unsolicited notification.
func Info(resp string) []string {
	var lines []string
	for _, line := range Lines(resp) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if Classify(line) == TypeData {
			lines = append(lines, line)
		}
	}
	return lines
}
