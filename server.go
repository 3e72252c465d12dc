package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"i4.energy/across/cellsock/modem"
)

// pollInterval is how long an exchange waits between reads that returned
// nothing.
const pollInterval = 50 * time.Millisecond

// Server handles incoming HTTP requests for interacting with the
// configured modem instance
type Server struct {
	Logger *slog.Logger
	Modem  *modem.Modem
	// Gatherer is exposed on /metrics when set
	Gatherer prometheus.Gatherer
	// ExchangeTimeout caps the timeout a request may ask for
	ExchangeTimeout time.Duration
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /exchange", s.handleExchange)
	mux.HandleFunc("GET /sockets", s.handleSockets)
	mux.HandleFunc("GET /bearer", s.handleBearer)
	if s.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)

}

func (s *Server) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

// ExchangeRequest asks the gateway to open a connection, send a payload
// and collect the reply.
type ExchangeRequest struct {
	Host    string `json:"host"`
	Port    uint16 `json:"port"`
	SSL     bool   `json:"ssl"`
	Payload string `json:"payload"`
	// TimeoutMS bounds the whole exchange. Zero uses the server's limit.
	TimeoutMS int `json:"timeout_ms"`
}

// ExchangeResponse reports what was sent and received.
type ExchangeResponse struct {
	RequestID string `json:"request_id"`
	Socket    int    `json:"socket"`
	Sent      int    `json:"sent"`
	Received  string `json:"received"`
	// Closed is true when the peer closed the connection, false when the
	// exchange ended on its timeout.
	Closed bool `json:"closed"`
}

// handleExchange connects to the requested host over the modem, writes the
// payload and reads until the peer closes the connection or the timeout
// expires.
func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	logger := s.Logger.With("request_id", requestID)
	w.Header().Set("X-Request-ID", requestID)

	var req ExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Host == "" || req.Port == 0 {
		s.sendError(w, "both 'host' and 'port' fields are required", http.StatusBadRequest)
		return
	}

	timeout := s.ExchangeTimeout
	if req.TimeoutMS > 0 {
		if d := time.Duration(req.TimeoutMS) * time.Millisecond; timeout == 0 || d < timeout {
			timeout = d
		}
	}
	ctx := r.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sock, err := s.Modem.NextSocket(req.SSL)
	if errors.Is(err, modem.ErrNoFreeSocket) {
		s.sendError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		s.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer sock.Release()
	logger = logger.With("socket", sock.ID())

	if err := sock.Connect(ctx, req.Host, req.Port); err != nil {
		logger.Error("Failed to connect", "error", err, "host", req.Host, "port", req.Port)
		s.sendError(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer func() {
		// the request context may be done already
		if err := sock.Stop(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to stop socket", "error", err)
		}
	}()

	resp := ExchangeResponse{RequestID: requestID, Socket: sock.ID()}

	payload := []byte(req.Payload)
	for resp.Sent < len(payload) {
		n, err := sock.Send(ctx, payload[resp.Sent:])
		resp.Sent += n
		if err == nil && n == 0 {
			err = errors.New("modem accepted no data")
		}
		if err != nil {
			logger.Error("Failed to send payload", "error", err, "sent", resp.Sent)
			s.sendError(w, err.Error(), http.StatusBadGateway)
			return
		}
	}

	received, closed, err := s.collect(ctx, sock)
	if err != nil {
		logger.Error("Failed to receive", "error", err)
		s.sendError(w, err.Error(), http.StatusBadGateway)
		return
	}
	resp.Received = string(received)
	resp.Closed = closed

	logger.Info("Exchange complete", "host", req.Host, "sent", resp.Sent, "received", len(received), "closed", closed)
	s.sendJSON(w, resp)
}

// collect reads from sock until the peer closes it or ctx is done. It
// reports whether the peer closed the connection.
func (s *Server) collect(ctx context.Context, sock *modem.Socket) ([]byte, bool, error) {
	var received []byte
	buf := make([]byte, 512)
	for {
		n, err := sock.Recv(ctx, buf)
		received = append(received, buf[:n]...)
		if ctx.Err() != nil {
			return received, false, nil
		}
		if err != nil {
			return received, false, err
		}
		if n > 0 {
			continue
		}
		if !sock.Connected(ctx) {
			return received, true, nil
		}

		select {
		case <-ctx.Done():
			return received, false, nil
		case <-time.After(pollInterval):
		}
	}
}

func (s *Server) handleSockets(w http.ResponseWriter, r *http.Request) {
	states := s.Modem.Sockets()
	if states == nil {
		states = []modem.SocketState{}
	}
	s.sendJSON(w, states)
}

// BearerResponse describes the packet data attachment.
type BearerResponse struct {
	Attached bool   `json:"attached"`
	LocalIP  string `json:"local_ip,omitempty"`
}

func (s *Server) handleBearer(w http.ResponseWriter, r *http.Request) {
	attached, err := s.Modem.Attached(r.Context())
	if err != nil {
		s.Logger.Error("Failed to query bearer", "error", err)
		s.sendError(w, err.Error(), http.StatusBadGateway)
		return
	}

	resp := BearerResponse{Attached: attached}
	if attached {
		addr, err := s.Modem.LocalIP(r.Context())
		if err != nil {
			s.Logger.Error("Failed to query local address", "error", err)
			s.sendError(w, err.Error(), http.StatusBadGateway)
			return
		}
		resp.LocalIP = addr.String()
	}
	s.sendJSON(w, resp)
}
