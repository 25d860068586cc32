package http

import (
	"encoding/base64"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/nextlevelbuilder/wagate/internal/session"
	"github.com/nextlevelbuilder/wagate/pkg/protocol"
)

const qrSize = 256

var panelTmpl = template.Must(template.New("panel").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
{{- if .Refresh}}
<meta http-equiv="refresh" content="5">
{{- end}}
<title>wagate</title>
</head>
<body>
{{- if .Connected}}
<h2>✅ BOT CONECTADO</h2>
{{- else if .QR}}
<h2>Escanea el QR</h2>
<img src="{{.QR}}" alt="QR">
{{- else}}
<p>Inicializando...</p>
{{- end}}
</body>
</html>
`))

type panelData struct {
	Connected bool
	Refresh   bool
	QR        template.URL
}

// statusName maps session state onto the reported status string. A
// Disconnected session that has not given up is still starting.
func statusName(st session.State) string {
	switch st.Status {
	case session.Connected:
		return protocol.StatusConnected
	case session.AwaitingPairing:
		return protocol.StatusAwaitingPairing
	case session.Reconnecting:
		return protocol.StatusReconnecting
	case session.Terminated:
		return protocol.StatusTerminated
	default:
		if st.GaveUp {
			return protocol.StatusDisconnected
		}
		return protocol.StatusInitializing
	}
}

func statusPayload(st session.State) protocol.StatusPayload {
	p := protocol.StatusPayload{
		Status:    statusName(st),
		Attempt:   st.Attempt,
		CloseCode: st.LastCloseCode,
	}
	if st.Status == session.AwaitingPairing {
		p.QR = st.PairingPayload
	}
	return p
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusPayload(s.sess.State()))
}

func (s *Server) handlePanel(w http.ResponseWriter, r *http.Request) {
	st := s.sess.State()
	data := panelData{Connected: st.Status == session.Connected}
	if !data.Connected {
		data.Refresh = true
		if st.Status == session.AwaitingPairing && st.PairingPayload != "" {
			png, err := qrcode.Encode(st.PairingPayload, qrcode.Medium, qrSize)
			if err != nil {
				slog.Warn("http.qr_encode", "error", err)
			} else {
				data.QR = template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png))
			}
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := panelTmpl.Execute(w, data); err != nil {
		slog.Warn("http.panel_render", "error", err)
	}
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	st := s.sess.State()
	if st.Status != session.AwaitingPairing || st.PairingPayload == "" {
		writeError(w, http.StatusNotFound, "no pairing code available")
		return
	}
	png, err := qrcode.Encode(st.PairingPayload, qrcode.Medium, qrSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, protocol.SendResponse{Error: msg, Code: errorCode(status)})
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return protocol.ErrInvalidRequest
	case http.StatusUnauthorized:
		return protocol.ErrUnauthorized
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return protocol.ErrResourceExhausted
	default:
		return protocol.ErrInternal
	}
}
