package httpapi

import (
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BrandonDHaskell/Argus/internal/argus/relay"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsMaxMessage = 4096
)

// Client frame types.
const (
	frameJoinAdmin  = "join-admin"
	frameLeaveAdmin = "leave-admin"
)

type monitorFrame struct {
	Type   string `json:"type"`
	ExamID string `json:"exam_id"`
}

// monitorEvent is every frame the server sends. Alert and status frames
// carry the alert fields inline; "joined" carries the session as stored so
// the monitor starts from the full history.
type monitorEvent struct {
	Event  string             `json:"event"`
	ExamID string             `json:"exam_id,omitempty"`
	Exam   *types.ExamSession `json:"exam,omitempty"`
	Error  string             `json:"error,omitempty"`
	*types.Alert
}

// monitorHub tracks open monitor sockets so shutdown can close them.
type monitorHub struct {
	s        *Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*monitorConn]struct{}
}

func newMonitorHub(s *Server, allowedOrigins []string) *monitorHub {
	h := &monitorHub{s: s, conns: make(map[*monitorConn]struct{})}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			return slices.Contains(allowedOrigins, origin)
		},
	}
	return h
}

type monitorConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	subs    map[string]*watch // read loop only
}

// watch is one joined exam: its subscription and the forwarder draining it.
type watch struct {
	sub  *relay.Subscriber
	done chan struct{}
}

func (c *monitorConn) write(ev monitorEvent) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteJSON(ev)
}

func (c *monitorConn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (h *monitorHub) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.s.logger.Printf("monitor upgrade failed: %v", err)
		return
	}

	c := &monitorConn{ws: ws, subs: make(map[string]*watch)}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	admin := caller(r)
	h.s.logger.Printf("monitor %s connected from %s", admin.ID, r.RemoteAddr)

	done := make(chan struct{})
	defer func() {
		close(done)
		for _, w := range c.subs {
			h.s.relay.Unsubscribe(w.sub)
		}
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()
		_ = ws.Close()
		h.s.logger.Printf("monitor %s disconnected", admin.ID)
	}()

	ws.SetReadLimit(wsMaxMessage)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go keepAlive(c, done)

	for {
		var f monitorFrame
		if err := ws.ReadJSON(&f); err != nil {
			return
		}
		examID := strings.TrimSpace(f.ExamID)

		switch f.Type {
		case frameJoinAdmin:
			h.join(r, c, examID)
		case frameLeaveAdmin:
			if w, ok := c.subs[examID]; ok {
				h.s.relay.Unsubscribe(w.sub)
				<-w.done
				delete(c.subs, examID)
			}
			_ = c.write(monitorEvent{Event: "left", ExamID: examID})
		default:
			_ = c.write(monitorEvent{Event: "error", ExamID: examID, Error: "unknown frame type " + f.Type})
		}
	}
}

// join subscribes before reading the session, so nothing recorded after the
// snapshot can be missed. The ack is sent once the subscription is live.
func (h *monitorHub) join(r *http.Request, c *monitorConn, examID string) {
	if _, ok := c.subs[examID]; ok {
		_ = c.write(monitorEvent{Event: "joined", ExamID: examID})
		return
	}

	sub := h.s.relay.Subscribe(examID)
	exam, err := h.s.examService.Get(r.Context(), caller(r), examID)
	if err != nil {
		h.s.relay.Unsubscribe(sub)
		_ = c.write(monitorEvent{Event: "error", ExamID: examID, Error: err.Error()})
		return
	}
	w := &watch{sub: sub, done: make(chan struct{})}
	c.subs[examID] = w

	if err := c.write(monitorEvent{Event: "joined", ExamID: examID, Exam: &exam}); err != nil {
		h.s.relay.Unsubscribe(sub)
		close(w.done)
		return
	}

	go func() {
		defer close(w.done)
		if err := forward(sub, c.write); err != nil {
			_ = c.ws.Close()
		}
	}()
}

// forward writes alerts from sub until it is unsubscribed. Alerts still
// buffered when the subscription ends are discarded, so nothing follows a
// "left" ack.
func forward(sub *relay.Subscriber, write func(monitorEvent) error) error {
	for {
		select {
		case <-sub.Done():
			return nil
		case a, ok := <-sub.C:
			if !ok {
				return nil
			}
			select {
			case <-sub.Done():
				return nil
			default:
			}
			if err := write(monitorEvent{Event: string(a.Type), ExamID: sub.ExamID, Alert: &a}); err != nil {
				return err
			}
		}
	}
}

func keepAlive(c *monitorConn, done <-chan struct{}) {
	t := time.NewTicker(wsPingPeriod)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

func (h *monitorHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
	}
}
