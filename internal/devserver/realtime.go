package devserver

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/idilsaglam/quicklist/internal/remote/supabase"
)

var okResponse = json.RawMessage(`{"postgres_changes":[]}`)

func reply(msg supabase.Message, status string, response any) supabase.Message {
	raw, _ := json.Marshal(response)
	payload, _ := json.Marshal(supabase.ReplyPayload{Status: status, Response: raw})
	return supabase.Message{Topic: msg.Topic, Event: supabase.PhxReply, Payload: payload, Ref: msg.Ref}
}

// handleRealtime speaks the subset of Realtime v1 the client uses: join,
// leave and heartbeat. Change frames come from the hub.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("apikey") != s.cfg.Key {
		writeError(w, http.StatusUnauthorized, "", "Invalid API key")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade", zap.Error(err))
		return
	}
	c := newClient(conn)
	if !s.hub.add(c) {
		_ = conn.Close()
		return
	}
	defer s.hub.remove(c)
	go c.writePump()

	for {
		var msg supabase.Message
		if err := conn.ReadJSON(&msg); err != nil {
			s.logger.Debug("realtime client gone", zap.Error(err))
			return
		}
		switch msg.Event {
		case supabase.PhxJoin:
			if msg.Topic != s.topic {
				c.enqueue(reply(msg, "error", map[string]string{"reason": "unknown topic " + msg.Topic}))
				continue
			}
			c.join(msg.Topic)
			c.enqueue(reply(msg, "ok", okResponse))
			s.logger.Info("realtime client joined", zap.String("topic", msg.Topic))
		case supabase.PhxLeave:
			c.leave(msg.Topic)
			c.enqueue(reply(msg, "ok", map[string]any{}))
		case supabase.PhxHeartbeat:
			c.enqueue(reply(msg, "ok", map[string]any{}))
		default:
			s.logger.Debug("ignoring realtime frame", zap.String("event", msg.Event), zap.String("topic", msg.Topic))
		}
	}
}

func (s *Server) broadcast(kind string, record, old any) {
	p := supabase.ChangePayload{
		Type:            kind,
		Schema:          s.cfg.Schema,
		Table:           s.cfg.Table,
		CommitTimestamp: nowTimestamp(),
	}
	if record != nil {
		p.Record, _ = json.Marshal(record)
	}
	if old != nil {
		p.OldRecord, _ = json.Marshal(old)
	}
	s.hub.Broadcast(s.topic, kind, p)
}
