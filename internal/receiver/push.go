package receiver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

const maxBodyBytes = 10 << 20

// pushRequest is the body Pub/Sub POSTs to a push endpoint.
type pushRequest struct {
	Message *struct {
		Data       []byte            `json:"data"`
		MessageID  string            `json:"messageId"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// PushHandler unwraps Pub/Sub push requests.
type PushHandler struct{}

func NewPushHandler() *PushHandler {
	return &PushHandler{}
}

func (h *PushHandler) Path() string {
	return "/pubsub/push"
}

func (h *PushHandler) Handle(w http.ResponseWriter, r *http.Request, sink *Sink) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req pushRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		slog.Warn("invalid push request", "err", err)
		http.Error(w, "invalid push request", http.StatusBadRequest)
		return
	}
	// Acknowledge wrappers with nothing to evaluate so they are not redelivered.
	if req.Message == nil || req.Message.Data == nil {
		slog.Warn("push request without message data", "subscription", req.Subscription)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	sink.Deliver(w, r, req.Message.MessageID, req.Message.Data)
}

// OCMHandler accepts raw OCM notifications.
type OCMHandler struct{}

func NewOCMHandler() *OCMHandler {
	return &OCMHandler{}
}

func (h *OCMHandler) Path() string {
	return "/ocm"
}

func (h *OCMHandler) Handle(w http.ResponseWriter, r *http.Request, sink *Sink) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	sink.Deliver(w, r, uuid.NewString(), body)
}
