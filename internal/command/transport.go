package command

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Transport bridges a websocket connection to the Router: inbound text
// frames are parsed as commands and dispatched, outbound frames carry the
// Response for each one (spec.md §4.8's "outbound response channel").
// Adapted from a dashboard-broadcast websocket hub pattern in the example
// pack, narrowed from many-client broadcast to a single bidirectional
// command/response session.
type Transport struct {
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// NewTransport constructs a Transport. allowOrigin filters the Origin
// header the same way a dashboard websocket endpoint would.
func NewTransport(log zerolog.Logger, allowOrigin func(origin string) bool) *Transport {
	return &Transport{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowOrigin == nil {
					return true
				}
				return allowOrigin(r.Header.Get("Origin"))
			},
		},
		log: log.With().Str("component", "command_transport").Logger(),
	}
}

// Serve upgrades the HTTP request to a websocket and runs the session until
// the client disconnects. handle is called once per parsed command; its
// Response is written back as a JSON text frame.
func (t *Transport) Serve(w http.ResponseWriter, r *http.Request, handle func(Command) Response) error {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	go t.pingLoop(conn, done)
	defer close(done)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				t.log.Warn().Err(err).Msg("websocket read error")
			}
			return nil
		}

		cmd, perr := Parse(payload)
		if perr != nil {
			t.writeResponse(conn, Response{Status: StatusFailed, Timestamp: time.Now(), Details: Details{Error: perr.Error()}})
			continue
		}

		t.writeResponse(conn, NewResponse(cmd, StatusProcessing, "", "received"))
		t.writeResponse(conn, handle(cmd))
	}
}

func (t *Transport) writeResponse(conn *websocket.Conn, resp Response) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(resp); err != nil {
		t.log.Warn().Err(err).Msg("websocket write failed")
	}
}

func (t *Transport) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
