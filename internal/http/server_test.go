package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/wagate/internal/compose"
	"github.com/nextlevelbuilder/wagate/internal/dispatch"
	"github.com/nextlevelbuilder/wagate/internal/session"
	"github.com/nextlevelbuilder/wagate/internal/transport"
	"github.com/nextlevelbuilder/wagate/pkg/protocol"
)

type fakeSession struct {
	mu        sync.Mutex
	state     session.State
	submitted []compose.OutboundRequest
	submitErr error
	resets    int
	stateSubs map[int]func(session.State)
	msgSubs   map[int]func(transport.MessageReceived)
	next      int
}

func newFakeSession(st session.State) *fakeSession {
	return &fakeSession{
		state:     st,
		stateSubs: map[int]func(session.State){},
		msgSubs:   map[int]func(transport.MessageReceived){},
	}
}

func (f *fakeSession) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) Compose(req compose.OutboundRequest) (compose.Composed, error) {
	return compose.Compose(req, compose.DefaultBranding())
}

func (f *fakeSession) Submit(ctx context.Context, req compose.OutboundRequest) (dispatch.Ack, error) {
	if _, err := f.Compose(req); err != nil {
		return dispatch.Ack{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return dispatch.Ack{}, f.submitErr
	}
	return dispatch.Ack{MessageID: "MSG1", Target: req.Target}, nil
}

func (f *fakeSession) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.state = session.State{Status: session.Disconnected}
	return nil
}

func (f *fakeSession) OnStateChange(fn func(session.State)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.stateSubs[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.stateSubs, id)
		f.mu.Unlock()
	}
}

func (f *fakeSession) OnMessage(fn func(transport.MessageReceived)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.msgSubs[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.msgSubs, id)
		f.mu.Unlock()
	}
}

func (f *fakeSession) setState(st session.State) {
	f.mu.Lock()
	f.state = st
	subs := make([]func(session.State), 0, len(f.stateSubs))
	for _, fn := range f.stateSubs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(st)
	}
}

func (f *fakeSession) deliver(m transport.MessageReceived) {
	f.mu.Lock()
	subs := make([]func(transport.MessageReceived), 0, len(f.msgSubs))
	for _, fn := range f.msgSubs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(m)
	}
}

func (f *fakeSession) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stateSubs) + len(f.msgSubs)
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeSend(t *testing.T, rec *httptest.ResponseRecorder) protocol.SendResponse {
	t.Helper()
	var resp protocol.SendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestStatusName(t *testing.T) {
	tests := []struct {
		state session.State
		want  string
	}{
		{session.State{Status: session.Connected}, protocol.StatusConnected},
		{session.State{Status: session.AwaitingPairing, PairingPayload: "qr"}, protocol.StatusAwaitingPairing},
		{session.State{Status: session.Reconnecting, Attempt: 2}, protocol.StatusReconnecting},
		{session.State{Status: session.Terminated}, protocol.StatusTerminated},
		{session.State{Status: session.Disconnected}, protocol.StatusInitializing},
		{session.State{Status: session.Disconnected, GaveUp: true}, protocol.StatusDisconnected},
	}
	for _, tt := range tests {
		if got := statusName(tt.state); got != tt.want {
			t.Errorf("statusName(%+v) = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestHandleStatus(t *testing.T) {
	sess := newFakeSession(session.State{Status: session.AwaitingPairing, PairingPayload: "2@abc", LastCloseCode: 408})
	srv := NewServer(sess, Options{})

	rec := do(t, srv.Handler(), "GET", "/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var p protocol.StatusPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p.Status != protocol.StatusAwaitingPairing || p.QR != "2@abc" || p.CloseCode != 408 {
		t.Errorf("payload = %+v", p)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id")
	}
}

func TestHandlePanel(t *testing.T) {
	tests := []struct {
		name    string
		state   session.State
		want    string
		refresh bool
	}{
		{"connected", session.State{Status: session.Connected}, "BOT CONECTADO", false},
		{"pairing", session.State{Status: session.AwaitingPairing, PairingPayload: "2@abc"}, "data:image/png;base64,", true},
		{"starting", session.State{Status: session.Disconnected}, "Inicializando...", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(newFakeSession(tt.state), Options{})
			rec := do(t, srv.Handler(), "GET", "/", "", nil)
			body := rec.Body.String()
			if !strings.Contains(body, tt.want) {
				t.Errorf("body missing %q:\n%s", tt.want, body)
			}
			if got := strings.Contains(body, `http-equiv="refresh"`); got != tt.refresh {
				t.Errorf("refresh = %v, want %v", got, tt.refresh)
			}
		})
	}
}

func TestHandleQR(t *testing.T) {
	sess := newFakeSession(session.State{Status: session.Connected})
	srv := NewServer(sess, Options{})

	if rec := do(t, srv.Handler(), "GET", "/status/qr.png", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("connected: code = %d, want 404", rec.Code)
	}

	sess.setState(session.State{Status: session.AwaitingPairing, PairingPayload: "2@abc"})
	rec := do(t, srv.Handler(), "GET", "/status/qr.png", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pairing: code = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	if !strings.HasPrefix(rec.Body.String(), "\x89PNG") {
		t.Error("body is not a PNG")
	}
}

func TestHandleSend(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		submitErr error
		wantCode  int
		wantError string
		wantWire  string
	}{
		{"text ok", `{"target":"5215550001111","kind":"text","body":"hola"}`, nil, 200, "", ""},
		{"aliases", `{"number":"5215550001111","type":"image","mediaUrl":"https://x/y.jpg"}`, nil, 200, "", ""},
		{"missing body", `{"target":"5215550001111","kind":"text"}`, nil, 400, "", protocol.ErrInvalidRequest},
		{"empty media ref", `{"target":"5215550001111","kind":"video","mediaRef":""}`, nil, 400, "", protocol.ErrInvalidRequest},
		{"unknown kind", `{"target":"5215550001111","kind":"poll"}`, nil, 400, "", protocol.ErrInvalidRequest},
		{"bad json", `{`, nil, 400, "", protocol.ErrInvalidRequest},
		{"not connected", `{"target":"1","kind":"text","body":"x"}`, dispatch.ErrNotConnected, 500, msgNotConnected, protocol.ErrNotConnected},
		{"send failed", `{"target":"1","kind":"text","body":"x"}`, &dispatch.SendFailedError{Cause: errors.New("boom")}, 500, msgSendFailed, protocol.ErrSendFailed},
		{"queue full", `{"target":"1","kind":"text","body":"x"}`, dispatch.ErrQueueFull, 503, "", protocol.ErrResourceExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newFakeSession(session.State{Status: session.Connected})
			sess.submitErr = tt.submitErr
			srv := NewServer(sess, Options{})

			rec := do(t, srv.Handler(), "POST", "/send", tt.body, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			resp := decodeSend(t, rec)
			if tt.wantCode == 200 {
				if !resp.Success || resp.ID != "MSG1" {
					t.Errorf("resp = %+v", resp)
				}
				return
			}
			if resp.Success || resp.Error == "" {
				t.Errorf("resp = %+v, want error", resp)
			}
			if tt.wantError != "" && resp.Error != tt.wantError {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantError)
			}
			if resp.Code != tt.wantWire {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantWire)
			}
		})
	}
}

func TestHandleSend_TerminatedCode(t *testing.T) {
	sess := newFakeSession(session.State{Status: session.Terminated})
	sess.submitErr = dispatch.ErrNotConnected
	srv := NewServer(sess, Options{})

	resp := decodeSend(t, do(t, srv.Handler(), "POST", "/send", `{"target":"1","kind":"text","body":"x"}`, nil))
	if resp.Code != protocol.ErrTerminated {
		t.Errorf("code = %q, want %q", resp.Code, protocol.ErrTerminated)
	}
}

func TestHandleSend_Aliases(t *testing.T) {
	sess := newFakeSession(session.State{Status: session.Connected})
	srv := NewServer(sess, Options{})

	do(t, srv.Handler(), "POST", "/send", `{"number":"521","type":"document","message":"","mediaUrl":"https://x/a.pdf","quotedId":"Q1"}`, nil)
	if len(sess.submitted) != 1 {
		t.Fatalf("submitted = %d", len(sess.submitted))
	}
	req := sess.submitted[0]
	if req.Target != "521" || req.Kind != compose.KindDocument {
		t.Errorf("req = %+v", req)
	}
	if req.Body != nil {
		t.Errorf("empty message should be absent, got %q", *req.Body)
	}
	if req.MediaRef == nil || *req.MediaRef != "https://x/a.pdf" {
		t.Errorf("mediaRef = %v", req.MediaRef)
	}
	if req.Options.Quoted == nil || req.Options.Quoted.ID != "Q1" {
		t.Errorf("quoted = %+v", req.Options.Quoted)
	}
}

func TestHandleSend_DryRun(t *testing.T) {
	sess := newFakeSession(session.State{Status: session.Disconnected})
	srv := NewServer(sess, Options{})

	rec := do(t, srv.Handler(), "POST", "/send", `{"target":"521","kind":"text","body":"hola","dryRun":true}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeSend(t, rec)
	if !resp.Success || len(resp.Content) == 0 {
		t.Fatalf("resp = %+v", resp)
	}
	if !strings.Contains(string(resp.Content), "hola") {
		t.Errorf("content = %s", resp.Content)
	}
	if len(sess.submitted) != 0 {
		t.Error("dry run must not submit")
	}
}

func TestHandleSend_Auth(t *testing.T) {
	sess := newFakeSession(session.State{Status: session.Connected})
	srv := NewServer(sess, Options{Token: "secret"})
	body := `{"target":"1","kind":"text","body":"x"}`

	if rec := do(t, srv.Handler(), "POST", "/send", body, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: code = %d", rec.Code)
	}
	if rec := do(t, srv.Handler(), "POST", "/send", body, map[string]string{"Authorization": "Bearer wrong"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: code = %d", rec.Code)
	}
	if rec := do(t, srv.Handler(), "POST", "/send", body, map[string]string{"Authorization": "Bearer secret"}); rec.Code != http.StatusOK {
		t.Errorf("right token: code = %d", rec.Code)
	}

	srv.SetToken("rotated")
	if rec := do(t, srv.Handler(), "POST", "/send", body, map[string]string{"Authorization": "Bearer secret"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("old token after rotation: code = %d", rec.Code)
	}
}

func TestHandleSend_RateLimited(t *testing.T) {
	sess := newFakeSession(session.State{Status: session.Connected})
	rl := NewRateLimiter(1, 2)
	defer rl.Stop()
	srv := NewServer(sess, Options{Limiter: rl})
	body := `{"target":"1","kind":"text","body":"x"}`

	for i := 0; i < 2; i++ {
		if rec := do(t, srv.Handler(), "POST", "/send", body, nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: code = %d", i, rec.Code)
		}
	}
	rec := do(t, srv.Handler(), "POST", "/send", body, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("code = %d, want 429", rec.Code)
	}
	if resp := decodeSend(t, rec); resp.Code != protocol.ErrResourceExhausted {
		t.Errorf("code = %q", resp.Code)
	}
}

func TestHandleReset(t *testing.T) {
	sess := newFakeSession(session.State{Status: session.Terminated})
	srv := NewServer(sess, Options{Token: "secret"})

	if rec := do(t, srv.Handler(), "POST", "/pairing/reset", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: code = %d", rec.Code)
	}
	rec := do(t, srv.Handler(), "POST", "/pairing/reset", "", map[string]string{"Authorization": "Bearer secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if sess.resets != 1 {
		t.Errorf("resets = %d", sess.resets)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.EventFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f struct {
		protocol.EventFrame
		Payload json.RawMessage `json:"payload"`
	}
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	f.EventFrame.Payload = f.Payload
	return f.EventFrame
}

func dialStream(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/status/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestStream_StatusEvents(t *testing.T) {
	sess := newFakeSession(session.State{Status: session.Disconnected})
	ts := httptest.NewServer(NewServer(sess, Options{Token: "secret"}).Handler())
	defer ts.Close()

	conn := dialStream(t, ts, "")
	defer conn.Close()

	first := readFrame(t, conn)
	if first.Event != protocol.EventSessionStatus || first.Seq != 1 {
		t.Fatalf("first frame = %+v", first)
	}

	sess.setState(session.State{Status: session.AwaitingPairing, PairingPayload: "2@abc"})
	next := readFrame(t, conn)
	var p protocol.StatusPayload
	if err := json.Unmarshal(next.Payload.(json.RawMessage), &p); err != nil {
		t.Fatal(err)
	}
	if p.Status != protocol.StatusAwaitingPairing || p.QR != "2@abc" || next.Seq != 2 {
		t.Errorf("frame = %+v payload = %+v", next, p)
	}

	// Unauthorized clients do not subscribe to messages.
	if n := sess.subscribers(); n != 1 {
		t.Errorf("subscribers = %d, want 1", n)
	}
}

func TestStream_MessagesNeedToken(t *testing.T) {
	sess := newFakeSession(session.State{Status: session.Connected})
	ts := httptest.NewServer(NewServer(sess, Options{Token: "secret"}).Handler())
	defer ts.Close()

	conn := dialStream(t, ts, "?token=secret")
	defer conn.Close()
	readFrame(t, conn)

	deadline := time.Now().Add(2 * time.Second)
	for sess.subscribers() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("message subscription not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	sess.deliver(transport.MessageReceived{ID: "M1", From: "521@s.whatsapp.net", Text: "hola"})
	f := readFrame(t, conn)
	if f.Event != protocol.EventMessageReceived {
		t.Fatalf("event = %q", f.Event)
	}
	var m protocol.MessagePayload
	if err := json.Unmarshal(f.Payload.(json.RawMessage), &m); err != nil {
		t.Fatal(err)
	}
	if m.ID != "M1" || m.Text != "hola" {
		t.Errorf("message = %+v", m)
	}
}

func TestStream_UnsubscribesOnClose(t *testing.T) {
	sess := newFakeSession(session.State{Status: session.Connected})
	ts := httptest.NewServer(NewServer(sess, Options{}).Handler())
	defer ts.Close()

	conn := dialStream(t, ts, "")
	readFrame(t, conn)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for sess.subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d after close", sess.subscribers())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRateLimiter(t *testing.T) {
	off := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !off.Allow("k") {
			t.Fatal("disabled limiter rejected a request")
		}
	}

	rl := NewRateLimiter(60, 3)
	defer rl.Stop()
	for i := 0; i < 3; i++ {
		if !rl.Allow("a") {
			t.Fatalf("request %d within burst rejected", i)
		}
	}
	if rl.Allow("a") {
		t.Error("request beyond burst allowed")
	}
	if !rl.Allow("b") {
		t.Error("keys must be independent")
	}

	rl.cleanup(time.Now().Add(time.Minute))
	if !rl.Allow("a") {
		t.Error("cleanup should drop stale entries")
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	if got := clientIP(r, false); got != "10.0.0.1" {
		t.Errorf("untrusted = %q", got)
	}
	if got := clientIP(r, true); got != "1.2.3.4" {
		t.Errorf("trusted = %q", got)
	}
}
