package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/wagate/internal/compose"
	"github.com/nextlevelbuilder/wagate/internal/dispatch"
	"github.com/nextlevelbuilder/wagate/internal/session"
	"github.com/nextlevelbuilder/wagate/pkg/protocol"
)

const (
	msgNotConnected = "Bot no conectado"
	msgSendFailed   = "Error enviando"
)

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !s.limiter.Load().Allow(clientIP(r, s.trustProxy)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var body protocol.SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	req := outboundRequest(body)

	if body.DryRun {
		s.dryRun(w, req)
		return
	}

	ack, err := s.sess.Submit(r.Context(), req)
	if err != nil {
		s.writeSendError(w, req, err)
		return
	}
	slog.Info("send.ok", "kind", req.Kind, "target", req.Target, "id", ack.MessageID)
	writeJSON(w, http.StatusOK, protocol.SendResponse{Success: true, ID: ack.MessageID})
}

// dryRun composes without dispatching and returns the wire content.
func (s *Server) dryRun(w http.ResponseWriter, req compose.OutboundRequest) {
	msg, err := s.sess.Compose(req)
	if err != nil {
		s.writeSendError(w, req, err)
		return
	}
	content, err := json.Marshal(struct {
		Content compose.Content `json:"content"`
		Options compose.Options `json:"options"`
	}{msg.Content, msg.Options})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, protocol.SendResponse{Success: true, Content: content})
}

func (s *Server) writeSendError(w http.ResponseWriter, req compose.OutboundRequest, err error) {
	resp := protocol.SendResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case compose.IsValidation(err):
		status = http.StatusBadRequest
		resp.Code = protocol.ErrInvalidRequest
	case errors.Is(err, dispatch.ErrNotConnected):
		resp.Error = msgNotConnected
		resp.Code = protocol.ErrNotConnected
		if s.sess.State().Status == session.Terminated {
			resp.Code = protocol.ErrTerminated
		}
	case dispatch.IsSendFailed(err):
		resp.Error = msgSendFailed
		resp.Code = protocol.ErrSendFailed
	case errors.Is(err, dispatch.ErrQueueFull):
		status = http.StatusServiceUnavailable
		resp.Code = protocol.ErrResourceExhausted
	default:
		resp.Code = protocol.ErrInternal
	}

	slog.Warn("send.failed", "kind", req.Kind, "target", req.Target, "code", resp.Code, "error", err)
	writeJSON(w, status, resp)
}

// outboundRequest resolves field aliases. Empty strings count as absent.
func outboundRequest(b protocol.SendRequest) compose.OutboundRequest {
	req := compose.OutboundRequest{
		Kind:     compose.Kind(firstNonEmpty(b.Kind, b.Type)),
		Target:   firstNonEmpty(b.Target, b.Number),
		Body:     firstSet(b.Body, b.Message),
		MediaRef: firstSet(b.MediaRef, b.MediaURL),
	}
	if b.QuotedID != "" {
		req.Options.Quoted = &compose.QuotedRef{ID: b.QuotedID, RemoteJID: req.Target}
	}
	return req
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstSet(vals ...*string) *string {
	for _, v := range vals {
		if v != nil && *v != "" {
			return v
		}
	}
	return nil
}
