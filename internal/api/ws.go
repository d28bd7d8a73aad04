package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"nexus/internal/catalog"
	"nexus/internal/logging"
	"nexus/internal/status"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

type wsSubscribe struct {
	Action string `json:"action"`
	JobID  string `json:"job_id"`
}

type wsError struct {
	Error string `json:"error"`
}

// handleWS upgrades the connection and streams one job's progress events.
// The client opens with {"action":"subscribe","job_id":"..."}; the server
// replays the job's current state, then forwards events until the job
// reaches a terminal status or either side disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	var sub wsSubscribe
	if err := conn.ReadJSON(&sub); err != nil || sub.Action != "subscribe" || sub.JobID == "" {
		s.writeWS(conn, wsError{Error: "expected {\"action\":\"subscribe\",\"job_id\":...}"})
		return
	}

	job, err := s.store.GetJob(r.Context(), sub.JobID)
	if errors.Is(err, catalog.ErrNotFound) {
		s.writeWS(conn, wsError{Error: "job not found"})
		return
	}
	if err != nil {
		s.writeWS(conn, wsError{Error: "failed to load job"})
		return
	}

	// Subscribe before replaying the snapshot so no transition falls in the
	// gap between the two.
	events := s.manager.Subscribe(sub.JobID)
	defer s.manager.Unsubscribe(sub.JobID, events)

	if !s.writeWS(conn, status.EventFromJob(job)) {
		return
	}
	if job.IsTerminal() {
		return
	}

	// Drain reads so client close frames are noticed promptly.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !s.writeWS(conn, ev) {
				return
			}
			if ev.Terminal() {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, payload any) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(payload); err != nil {
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			s.logger.Debug("websocket write failed", logging.Error(err))
		}
		return false
	}
	return true
}
