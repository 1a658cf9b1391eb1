package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/service"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/logger"
)

// WebSocketHandler resolves queries like POST /query and streams the answer
// back word by word, then sends the response without its content.
type WebSocketHandler struct {
	svc *service.Service
}

func NewWebSocketHandler(svc *service.Service) *WebSocketHandler {
	return &WebSocketHandler{svc: svc}
}

type wsMessage struct {
	Type string `json:"type"`
	queryRequest
}

// jsonReader and jsonWriter are the halves of *websocket.Conn the handler uses.
type jsonReader interface {
	ReadJSON(v any) error
}

type jsonWriter interface {
	WriteJSON(v any) error
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for msg := range readMessages(c, cancel) {
		if msg.Type != "query" {
			continue
		}
		if err := h.streamResponse(ctx, c, msg.queryRequest); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("Failed to stream response", zap.Error(err))
			if err := h.sendError(c, err.Error()); err != nil {
				return
			}
		}
	}
}

// readMessages reads until the peer goes away, then cancels the connection
// context so an in-flight query stops with it.
func readMessages(r jsonReader, cancel context.CancelFunc) <-chan wsMessage {
	out := make(chan wsMessage, 1)
	go func() {
		defer close(out)
		defer cancel()
		for {
			var msg wsMessage
			if err := r.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Warn("Failed to read WebSocket message", zap.Error(err))
				}
				return
			}
			out <- msg
		}
	}()
	return out
}

func (h *WebSocketHandler) streamResponse(ctx context.Context, c jsonWriter, req queryRequest) error {
	if err := h.send(c, map[string]any{"type": "status", "content": "Processing query..."}); err != nil {
		return err
	}

	resp, err := h.svc.Resolve(ctx, buildQuery(h.svc, req.Text, req))
	if err != nil {
		return err
	}

	for _, chunk := range splitIntoWords(resp.Content) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.send(c, map[string]any{"type": "chunk", "content": chunk}); err != nil {
			return err
		}
	}

	meta := resp.Clone()
	meta.Content = ""
	return h.send(c, map[string]any{"type": "complete", "response": meta})
}

func (h *WebSocketHandler) send(c jsonWriter, msg map[string]any) error {
	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c jsonWriter, errorMsg string) error {
	return c.WriteJSON(map[string]any{"type": "error", "error": errorMsg})
}

// splitIntoWords keeps the separators so the chunks concatenate back to text.
func splitIntoWords(text string) []string {
	var chunks []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == ' ' || r == '\n' {
			chunks = append(chunks, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}
