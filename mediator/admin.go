package mediator

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// ServeAdmin starts a read-only observability HTTP server at addr: metrics
// is served at "/metrics" using the handler the caller built (typically
// meshmetrics/prom.Handler), and "/registry" upgrades to a websocket feed
// of RegistryEvent JSON objects for live dashboards. No pub/sub control
// decision ever reads from this server; it can be omitted entirely.
//
// This is the registry-change-feed re-expression of the teacher's
// realtime/ws tunnel transport: same upgrader, same write-deadline
// discipline, different payload.
func (s *Server) ServeAdmin(addr string, metricsHandler http.Handler) (*http.Server, error) {
	mux := http.NewServeMux()
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	mux.HandleFunc("/registry", s.serveRegistryFeed)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	httpSrv := &http.Server{Addr: ln.Addr().String(), Handler: mux}
	go httpSrv.Serve(ln)
	return httpSrv, nil
}

var adminUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) serveRegistryFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := adminUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, cancel := s.reg.subscribeEvents()
	defer cancel()

	ctx, cancelCtx := context.WithCancel(r.Context())
	defer cancelCtx()
	go discardIncoming(conn, cancelCtx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			body, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		}
	}
}

// discardIncoming drains and ignores client frames so the connection's
// read side keeps making progress (gorilla/websocket requires reads to
// observe control frames and peer close), cancelling cancel once the
// connection drops.
func discardIncoming(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
