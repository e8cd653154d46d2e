package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/ethbank/internal/engine"
	"github.com/roach88/ethbank/internal/ledger"
)

// Error codes for failures that are not ledger domain errors.
const (
	CodeBadRequest = "BAD_REQUEST"
	CodeInternal   = "INTERNAL"
)

// Response is the error envelope.
type Response struct {
	Status string    `json:"status"`
	Error  *APIError `json:"error,omitempty"`
}

type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// TransferRequest is the POST /api/transfers body. Amounts are wei as
// decimal strings. Value defaults to Amount when omitted.
type TransferRequest struct {
	From    *ledger.Address `json:"from"`
	To      string          `json:"to"`
	Amount  *ledger.Amount  `json:"amount"`
	Value   *ledger.Amount  `json:"value,omitempty"`
	Message string          `json:"message"`
}

// CountResponse is the GET /api/transfers/count body.
type CountResponse struct {
	Count uint64 `json:"count"`
}

// HealthResponse is the GET /api/health body.
type HealthResponse struct {
	Status string `json:"status"`
	Count  uint64 `json:"count"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	writeJSON(w, status, Response{
		Status: "error",
		Error:  &APIError{Code: code, Message: message, Details: details},
	})
}

// writeLedgerError maps domain errors to 422, a stopped engine to 503 and
// anything else to 500.
func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	var le *ledger.Error
	if !errors.As(err, &le) {
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
		return
	}

	status := http.StatusUnprocessableEntity
	if le.Code == ledger.ErrCodeEngineStopped {
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, string(le.Code), le.Message, le.Details)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "malformed request body: "+err.Error(), nil)
		return
	}
	if req.From == nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, `missing "from"`, nil)
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, `missing "amount"`, nil)
		return
	}
	value := *req.Amount
	if req.Value != nil {
		value = *req.Value
	}

	rec, err := s.sender.SendAndRecord(r.Context(), engine.SendRequest{
		Sender:   *req.From,
		Receiver: req.To,
		Amount:   *req.Amount,
		Message:  req.Message,
		Value:    value,
	})
	if err != nil {
		if r.Context().Err() != nil && errors.Is(err, r.Context().Err()) {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "request cancelled", nil)
			return
		}
		s.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	snap, err := ledger.GetSnapshot(r.Context(), s.store)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	n, err := ledger.GetCount(r.Context(), s.store)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := ledger.ParseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error(), nil)
		return
	}

	acct, err := ledger.GetAccount(r.Context(), s.store, addr)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := ledger.GetCount(r.Context(), s.store)
	if err != nil {
		s.logger.Error("health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, CodeInternal, "store unavailable", nil)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Count: n})
}

// handleEvents streams TransferEvents until the client disconnects or the
// bus closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(s.buffer)
	defer sub.Close()

	// The client never sends data; reading detects disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(time.Second))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
