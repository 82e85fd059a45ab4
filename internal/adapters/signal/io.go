package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/rtchub/rtchub/internal/domain"
	"github.com/rtchub/rtchub/internal/relay"
	"github.com/rtchub/rtchub/internal/signaling"
)

// connState is mutated only by the connection's read goroutine.
type connState struct {
	conn *WsSignalConn
	sess *signaling.PeerSession
}

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	pingPeriod := ctl.PingPeriod
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid string, c *WsSignalConn) {
	st := &connState{conn: c}
	defer func() {
		log.Info().Str("module", "signal").Str("sid", sid).Msg("readPump closing")
		if st.sess != nil {
			ctl.Engine.Leave(context.Background(), st.sess)
			st.sess = nil
		}
		cancel()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", sid).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", sid).Msg("readPump read error")
				return
			}
			ctl.handleSignal(ctx, st, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, st *connState, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(ctx, st, data)
	case "negotiate":
		ctl.handleNegotiate(ctx, st, data)
	case "iceCandidate":
		ctl.handleCandidate(ctx, st, data)
	case "leave":
		ctl.handleLeave(ctx, st)
	case "ping":
		ctl.handlePing(st.conn)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, msg string) {
	ctl.sendJSON(c, map[string]any{
		"type":  "error",
		"error": msg,
	})
}

func (ctl *SignalWSController) handleJoin(ctx context.Context, st *connState, data []byte) {
	type joinPayload struct {
		Type     string `json:"type"`
		RoomID   string `json:"roomId"`
		UserID   string `json:"userId"`
		Nickname string `json:"nickname"`
		Password string `json:"password,omitempty"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		return
	}

	user, err := domain.NewUser(p.UserID, p.Nickname)
	if err != nil {
		ctl.sendError(st.conn, err.Error())
		return
	}
	roomID := domain.RoomID(p.RoomID)

	ok, err := ctl.Rooms.CheckPassword(ctx, roomID, p.Password)
	if err != nil {
		ctl.sendError(st.conn, err.Error())
		return
	}
	if !ok {
		ctl.sendError(st.conn, "wrong password")
		return
	}

	// A second join on the same connection moves the peer.
	if st.sess != nil {
		ctl.Engine.Leave(ctx, st.sess)
		st.sess = nil
	}

	log.Info().Str("module", "signal").Str("room", p.RoomID).Str("user", p.UserID).Msg("join")
	sess, err := ctl.Engine.Join(ctx, st.conn, roomID, user.ID, user.Nickname)
	if err != nil {
		ctl.sendError(st.conn, err.Error())
		return
	}
	st.sess = sess
}

func (ctl *SignalWSController) handleNegotiate(ctx context.Context, st *connState, data []byte) {
	type negotiatePayload struct {
		Type     string `json:"type"`
		Sender   string `json:"sender"`
		SDPOffer string `json:"sdpOffer"`
	}
	var p negotiatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad negotiate payload")
		return
	}
	if st.sess == nil {
		ctl.sendError(st.conn, "not in a room")
		return
	}
	ctl.Engine.Negotiate(ctx, st.sess, domain.UserID(p.Sender), p.SDPOffer)
}

func (ctl *SignalWSController) handleCandidate(ctx context.Context, st *connState, data []byte) {
	type candidatePayload struct {
		Type      string             `json:"type"`
		Target    string             `json:"target"`
		Candidate relay.ICECandidate `json:"candidate"`
	}
	var p candidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		return
	}
	if st.sess == nil {
		log.Debug().Str("module", "signal").Msg("candidate without session, ignored")
		return
	}
	ctl.Engine.AddCandidate(ctx, st.sess, domain.UserID(p.Target), p.Candidate)
}

func (ctl *SignalWSController) handleLeave(ctx context.Context, st *connState) {
	if st.sess == nil {
		return
	}
	log.Info().Str("module", "signal").Str("user", string(st.sess.UserID)).Msg("leave")
	ctl.Engine.Leave(ctx, st.sess)
	st.sess = nil
}

func (ctl *SignalWSController) handlePing(c *WsSignalConn) {
	ctl.sendJSON(c, map[string]string{"type": "pong"})
}
