package server

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/tabsplit/internal/protocol"
	"github.com/MarcoPoloResearchLab/tabsplit/internal/sessions"
)

const (
	channelWriteTimeout  = 10 * time.Second
	channelPingInterval  = 30 * time.Second
	channelUpdateTimeout = 10 * time.Second
	channelReadLimit     = 1 << 20
)

type channelHandler struct {
	hub            *Hub
	sessions       SessionService
	metrics        *Metrics
	logger         *zap.Logger
	originPatterns []string
}

func newChannelHandler(hub *Hub, sessionService SessionService, metrics *Metrics, logger *zap.Logger, allowedOrigins []string) *channelHandler {
	return &channelHandler{
		hub:            hub,
		sessions:       sessionService,
		metrics:        metrics,
		logger:         logger,
		originPatterns: originPatterns(allowedOrigins),
	}
}

func (h *channelHandler) handle(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("channel upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(channelReadLimit)

	member := h.hub.Connect()
	logger := h.logger.With(zap.Int64("connection_id", member.ID()))
	logger.Debug("channel connected")

	ctx, cancel := context.WithCancel(c.Request.Context())
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, conn, member, logger)
		cancel()
	}()

	h.readLoop(ctx, conn, member, logger)

	h.hub.Disconnect(member)
	cancel()
	<-writerDone
	_ = conn.Close(websocket.StatusNormalClosure, "")
	logger.Debug("channel disconnected")
}

func (h *channelHandler) readLoop(ctx context.Context, conn *websocket.Conn, member *Member, logger *zap.Logger) {
	for {
		_, frame, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				logger.Debug("channel read ended", zap.Error(err))
			}
			return
		}
		h.handleFrame(ctx, member, frame, logger)
	}
}

func (h *channelHandler) writeLoop(ctx context.Context, conn *websocket.Conn, member *Member, logger *zap.Logger) {
	ticker := time.NewTicker(channelPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-member.Evicted():
			logger.Warn("channel evicted for falling behind")
			_ = conn.Close(websocket.StatusPolicyViolation, "send queue full")
			return
		case frame := <-member.Stream():
			writeCtx, cancelWrite := context.WithTimeout(ctx, channelWriteTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, frame)
			cancelWrite()
			if err != nil {
				logger.Debug("channel write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			pingCtx, cancelPing := context.WithTimeout(ctx, channelWriteTimeout)
			err := conn.Ping(pingCtx)
			cancelPing()
			if err != nil {
				logger.Debug("channel ping failed", zap.Error(err))
				return
			}
		}
	}
}

// handleFrame processes one client frame. Nothing here is fatal to the
// connection: malformed frames and failed saves are logged and dropped.
func (h *channelHandler) handleFrame(ctx context.Context, member *Member, frame []byte, logger *zap.Logger) {
	envelope, err := protocol.Decode(frame)
	if err != nil {
		logger.Warn("channel frame ignored", zap.Error(err))
		return
	}

	switch envelope.Type {
	case protocol.TypeJoinSession:
		h.hub.Join(member, envelope.SessionID)
		h.metrics.joined()
		logger.Info("session joined", zap.String("session_id", envelope.SessionID))
	case protocol.TypeUpdateSession:
		h.handleUpdate(ctx, member, envelope, logger)
	default:
		logger.Warn("channel frame ignored", zap.String("type", envelope.Type))
	}
}

func (h *channelHandler) handleUpdate(ctx context.Context, member *Member, envelope protocol.Envelope, logger *zap.Logger) {
	sessionID := envelope.SessionID
	patch, err := envelope.DecodePatch()
	if err != nil {
		h.metrics.updateHandled(updateResultInvalid)
		logger.Warn("update ignored", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	h.hub.Serialize(sessionID, func() {
		updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), channelUpdateTimeout)
		defer cancel()

		session, err := h.sessions.ApplyUpdate(updateCtx, sessionID, patch)
		if err != nil {
			result := updateResultFailed
			if sessions.Classify(err) == sessions.KindInvalidInput {
				result = updateResultInvalid
			}
			h.metrics.updateHandled(result)
			logger.Error("update not applied",
				zap.String("session_id", sessionID),
				zap.String("result", result),
				zap.Error(err))
			return
		}
		h.metrics.updateHandled(updateResultApplied)

		frame, err := protocol.EncodeSessionUpdated(session)
		if err != nil {
			logger.Error("session encode failed", zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		h.hub.Broadcast(sessionID, member, frame)
	})
}

// originPatterns turns configured CORS origins into websocket host patterns.
func originPatterns(allowedOrigins []string) []string {
	if len(allowedOrigins) == 0 {
		return []string{"*"}
	}
	patterns := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			return []string{"*"}
		}
		parsed, err := url.Parse(origin)
		if err != nil || parsed.Host == "" {
			patterns = append(patterns, origin)
			continue
		}
		patterns = append(patterns, parsed.Host)
	}
	return patterns
}
