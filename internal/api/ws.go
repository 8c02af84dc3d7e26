package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/events"
)

const wsWriteTimeout = 10 * time.Second

// handleEventsWS streams hub events as JSON messages. ?project_id= limits
// the stream to one project; without it every event is sent.
func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	topic := events.TopicAll
	if id := req.URL.Query().Get("project_id"); id != "" {
		p, err := r.projects.Resolve(req.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		topic = events.ProjectTopic(p.ID)
	}

	// Subscribed before the upgrade: events published right after the
	// handshake must reach the client.
	sub := r.hub.Subscribe(topic, 0)
	defer sub.Close()

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	go drain(conn, cancel)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				// Too slow to keep up; the client reconnects and re-reads state.
				closeWS(conn, websocket.CloseTryAgainLater, "event stream lagged")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				r.logger.Warn("websocket send failed", "error", err)
				return
			}
		}
	}
}

// handleTaskLogWS sends the task's output so far and then live output as
// text messages, closing normally once the task finishes.
func (r *Router) handleTaskLogWS(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if _, err := r.tasks.GetTask(req.Context(), id); err != nil {
		writeErr(w, err)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	go drain(conn, cancel)

	if err := r.tasks.FollowTaskLog(ctx, id, wsWriter{conn: conn}); err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("follow task log", "task_id", id, "error", err)
			closeWS(conn, websocket.CloseInternalServerErr, err.Error())
		}
		return
	}
	closeWS(conn, websocket.CloseNormalClosure, "task finished")
}

// drain reads and discards client frames so control messages are handled,
// and cancels once the client goes away.
func drain(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func closeWS(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// wsWriter sends every Write as one text message.
type wsWriter struct {
	conn *websocket.Conn
}

func (w wsWriter) Write(p []byte) (int, error) {
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
