package at

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// Splitter is used for tokenizing AT command modem responses. It uses
// the signature of bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// It splits the input by CRLF line endings and also
// recognizes the send data prompt ("> ").
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// 1. Match send prompt
	if bytes.HasPrefix(data, []byte(Prompt)) {
		return len(Prompt), data[0:len(Prompt)], nil
	}

	// 2. Match standard line ending with CRLF
	if i := bytes.Index(data, []byte(CRLF)); i >= 0 {
		return i + len(CRLF), data[0:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Lines tokenizes a complete captured response.
func Lines(resp string) []string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(resp))
	scanner.Split(Splitter)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

// Classify identifies the nature of the modem output
func Classify(line string) ResponseType {
	if line == Prompt || line == strings.TrimSpace(Prompt) {
		return TypePrompt
	}

	// Direct matches for final results
	switch line {
	case OK, ERROR, ShutOK:
		return TypeFinal
	}

	// In multiplexed mode connection results carry a "<n>, " prefix
	switch {
	case strings.HasSuffix(line, ConnectOK),
		strings.HasSuffix(line, ConnectFail),
		strings.HasSuffix(line, AlreadyConnect),
		strings.HasSuffix(line, CloseOK),
		strings.HasPrefix(line, CmeError):
		return TypeFinal
	case strings.HasPrefix(line, fmt.Sprintf("%s %d,", RxGet, RxGetNotify)),
		strings.HasSuffix(line, ", "+UrcClosed):
		return TypeURC
	case strings.HasPrefix(line, "AT"):
		return TypeEcho
	default:
		return TypeData
	}
}
