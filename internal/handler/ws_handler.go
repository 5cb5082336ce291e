package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a live session: remaining time ticks, the closing
// submission, and answer/navigation actions from the client.
type WSHandler struct {
	rdb            *redis.Client
	sessionService *service.ExamSessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler. A nil rdb limits updates to
// sessions counted down in this process.
func NewWSHandler(rdb *redis.Client, sessionService *service.ExamSessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		rdb:            rdb,
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// wsConn serialises writes; gorilla allows one concurrent writer.
type wsConn struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	submitted bool
}

func (w *wsConn) send(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ws.WriteTyped(w.conn, v)
}

// sendSubmitted delivers the closing event once, whichever source reports
// it first.
func (w *wsConn) sendSubmitted(trigger model.SubmitTrigger, result *model.ScoreResult) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.submitted {
		return false
	}
	w.submitted = true
	_ = ws.WriteTyped(w.conn, ws.SubmittedResponse{Event: ws.EventSubmitted, Trigger: trigger, Result: result})
	return true
}

func (w *wsConn) sendError(err error) {
	_, code := errorStatus(err)
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = ws.WriteError(w.conn, string(code), response.GetMessage(code))
}

// SessionStream godoc
// WS /ws/v1/candidate/exams/:exam_id/stream
// Requires a started session.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}
	candidateID := claims.CandidateID()

	st, err := h.sessionService.GetState(c.Request.Context(), candidateID, examID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("candidate_id", candidateID).
		Str("session_id", st.SessionID.String()).
		Logger()
	wsLog.Info().Msg("Candidate connected")

	out := &wsConn{conn: conn}
	if st.IsSubmitted {
		_ = out.send(ws.StateResponse{Event: ws.EventState, Session: st})
		out.sendSubmitted(st.SubmitTrigger, nil)
		return
	}
	_ = out.send(ws.StateResponse{Event: ws.EventState, Session: st})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.pushTicks(ctx, out, st.SessionID)
	if h.rdb != nil {
		go h.pushRemote(ctx, wsLog, out, st.SessionID)
	}

	for {
		env, err := ws.ReadEnvelope(conn)
		if err != nil {
			if errors.Is(err, ws.ErrMalformedMessage) {
				_ = out.send(ws.ErrorResponse{Event: ws.EventError, Code: string(response.ErrInvalidPayload), Error: response.GetMessage(response.ErrInvalidPayload)})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}
		h.dispatch(ctx, wsLog, out, env, candidateID, examID, st.SessionID)
	}
}

func (h *WSHandler) dispatch(ctx context.Context, wsLog zerolog.Logger, out *wsConn, env *ws.RequestEnvelope, candidateID string, examID, sessionID uuid.UUID) {
	var (
		st  *model.ExamSessionState
		err error
	)

	switch env.Action {
	case ws.ActionPing:
		_ = out.send(ws.PongResponse{Event: ws.EventPong})
		return

	case ws.ActionSync:
		st, err = h.sessionService.GetState(ctx, candidateID, examID)

	case ws.ActionAnswer:
		var req ws.AnswerRequest
		if err = env.Decode(&req); err == nil {
			st, err = h.sessionService.RecordAnswer(ctx, candidateID, examID, req.QuestionID, req.Answer)
		}

	case ws.ActionClear:
		var req ws.AnswerRequest
		if err = env.Decode(&req); err == nil {
			st, err = h.sessionService.ClearAnswer(ctx, candidateID, examID, req.QuestionID)
		}

	case ws.ActionMark:
		var req ws.MarkRequest
		if err = env.Decode(&req); err == nil {
			st, err = h.sessionService.ToggleMark(ctx, candidateID, examID, req.QuestionID, req.Marked)
		}

	case ws.ActionNavigate:
		var req ws.NavigateRequest
		if err = env.Decode(&req); err == nil {
			st, err = h.sessionService.Navigate(ctx, candidateID, examID, &req.NavigateRequest)
		}

	case ws.ActionSubmit:
		var req ws.SubmitRequest
		if err = env.Decode(&req); err != nil {
			break
		}
		var result *model.ScoreResult
		result, err = h.sessionService.SubmitExam(ctx, candidateID, sessionID, req.Answers, req.TimeTaken)
		if err == nil {
			out.sendSubmitted(model.SubmitTriggerManual, result)
			return
		}

	default:
		wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
		_ = out.send(ws.ErrorResponse{Event: ws.EventError, Code: string(response.ErrInvalidPayload), Error: "unknown action: " + string(env.Action)})
		return
	}

	if err != nil {
		var syntax *json.SyntaxError
		var typ *json.UnmarshalTypeError
		if errors.As(err, &syntax) || errors.As(err, &typ) {
			_ = out.send(ws.ErrorResponse{Event: ws.EventError, Code: string(response.ErrInvalidPayload), Error: response.GetMessage(response.ErrInvalidPayload)})
			return
		}
		out.sendError(err)
		return
	}
	_ = out.send(ws.StateResponse{Event: ws.EventState, Session: st})
}

// pushTicks relays the local countdown.
func (h *WSHandler) pushTicks(ctx context.Context, out *wsConn, sessionID uuid.UUID) {
	ticks, stop := h.sessionService.Watch(sessionID)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticks:
			if tick.IsSubmitted {
				out.sendSubmitted(tick.Trigger, tick.Result)
				continue
			}
			_ = out.send(ws.TickResponse{Event: ws.EventTick, Remaining: tick.Remaining})
		}
	}
}

// pushRemote relays submissions made by other server processes.
func (h *WSHandler) pushRemote(ctx context.Context, wsLog zerolog.Logger, out *wsConn, sessionID uuid.UUID) {
	sub := h.rdb.Subscribe(ctx, config.CacheKey.SessionEventsChannel(sessionID.String()))
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var tick model.SessionTick
			if err := json.Unmarshal([]byte(msg.Payload), &tick); err != nil {
				wsLog.Warn().Err(err).Msg("Discarding malformed session notification")
				continue
			}
			if tick.IsSubmitted {
				out.sendSubmitted(tick.Trigger, tick.Result)
			}
		}
	}
}
