package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cuongbtq/completion-relay/internal/job"
)

const streamWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamJob handles GET /api/v1/jobs/:job_id/stream
// Relays every chunk published for the job as a websocket text frame and
// closes after the terminal marker.
func (h *JobHandler) StreamJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	if h.subscriber == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error": "Streaming is disabled",
		})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	topic := job.Topic(h.topicPrefix, jobID)
	logger := h.logger.With(slog.String("job_id", jobID), slog.String("topic", topic))

	sub, err := h.subscriber.Subscribe(ctx, topic)
	if err != nil {
		logger.Error("Failed to subscribe to job topic", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Notification broker unavailable",
		})
		return
	}
	defer sub.Close()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("Websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	logger.Info("Stream client connected", slog.String("remote", c.ClientIP()))

	// Reads only detect the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	relayed := 0
	for {
		select {
		case payload, ok := <-sub.Messages():
			if !ok {
				logger.Info("Subscription ended", slog.Int("relayed", relayed))
				closeStream(ws, websocket.CloseGoingAway, "subscription ended")
				return
			}

			_ = ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Info("Stream client write failed", slog.String("error", err.Error()))
				return
			}
			relayed++

			chunk, err := job.DecodeChunk(payload)
			if err == nil && chunk.IsTerminal() {
				logger.Info("Stream finished",
					slog.String("kind", chunk.Kind),
					slog.Int("relayed", relayed),
				)
				closeStream(ws, websocket.CloseNormalClosure, chunk.Kind)
				return
			}
		case <-ctx.Done():
			logger.Info("Stream client disconnected", slog.Int("relayed", relayed))
			return
		}
	}
}

func closeStream(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
