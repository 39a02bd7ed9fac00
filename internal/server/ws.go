package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nadhilrobomiracle/stt/internal/stream"
)

// maxFrameBytes caps a single inbound websocket frame. Chunk size is
// otherwise unconstrained; the session buffer enforces the real memory cap.
const maxFrameBytes = 1 << 20

// writeTimeout bounds one outbound transcript write. A peer that stops
// draining its TCP connection gets a write error instead of a worker
// goroutine parked in its send forever.
const writeTimeout = 10 * time.Second

// transcriptMessage is the outbound message for one emitted transcript.
type transcriptMessage struct {
	Text string `json:"text"`
}

// wsSender adapts a websocket connection to the stream.Sender interface.
// gorilla connections allow one concurrent writer, so writes are
// serialized here.
type wsSender struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSender) Send(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(transcriptMessage{Text: text})
}

// Close does not take the write mutex: gorilla's Close and WriteControl
// are safe concurrently with other writes, and closing the connection is
// what unblocks a Send stuck on a dead peer.
func (s *wsSender) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return s.conn.Close()
}

// StreamHandler accepts websocket connections carrying binary canonical
// PCM chunks and streams transcript messages back. One goroutine per
// connection runs the read loop; it only ever blocks waiting for the next
// inbound frame, never on inference.
type StreamHandler struct {
	logger   *slog.Logger
	manager  *stream.Manager
	upgrader websocket.Upgrader
}

// NewStreamHandler creates the websocket endpoint handler.
func NewStreamHandler(logger *slog.Logger, manager *stream.Manager) *StreamHandler {
	return &StreamHandler{
		logger:  logger,
		manager: manager,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle upgrades the connection, allocates a session and runs the read
// loop until the transport fails or the client disconnects. Any fate of
// the connection ends in CloseSession; a reaper-initiated close surfaces
// here as a read error on the closed connection.
func (h *StreamHandler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	sender := &wsSender{conn: conn}

	session, err := h.manager.CreateSession(sender)
	if err != nil {
		h.logger.Warn("Rejecting stream connection",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		_ = sender.Close()
		return
	}
	defer h.manager.CloseSession(session.ID)

	conn.SetReadLimit(maxFrameBytes)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("Stream transport error",
					slog.String("session_id", session.ID),
					slog.String("error", err.Error()),
				)
			} else {
				h.logger.Debug("Stream disconnected",
					slog.String("session_id", session.ID),
				)
			}
			return
		}

		// Text frames (pings, client-side chatter) carry no audio.
		if messageType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}

		session.HandleChunk(data)
	}
}
