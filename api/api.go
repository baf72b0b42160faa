// Package api serves the cascade over HTTP and websocket.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"CascadeDetServer/cascade"
	"CascadeDetServer/imaging"
	"CascadeDetServer/logger"
	"CascadeDetServer/monitor"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxImageBytes = 20 * 1024 * 1024

type Handler struct {
	cascade  *cascade.Cascade
	decode   imaging.Decoder
	upgrader websocket.Upgrader
	// Timeout bounds each prediction; zero means no limit beyond the request.
	Timeout time.Duration
}

func NewHandler(c *cascade.Cascade, decode imaging.Decoder) *Handler {
	return &Handler{
		cascade: c,
		decode:  decode,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/models", h.describe)
	r.POST("/api/predict", h.predict)
	r.GET("/ws/predict", h.stream)
	return r
}

func (h *Handler) describe(c *gin.Context) {
	monitor.HTTPTotal.WithLabelValues("models").Inc()
	c.JSON(http.StatusOK, gin.H{"data": h.cascade.Registry().Describe()})
}

// predict accepts a multipart "file" field or the raw image as the body.
func (h *Handler) predict(c *gin.Context) {
	monitor.HTTPTotal.WithLabelValues("predict").Inc()
	data, err := readImage(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, status, err := h.run(c.Request.Context(), data)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": report})
}

func readImage(c *gin.Context) ([]byte, error) {
	if file, err := c.FormFile("file"); err == nil {
		f, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("file upload failed: %w", err)
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, maxImageBytes))
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImageBytes))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("no image provided")
	}
	return data, nil
}

func (h *Handler) run(ctx context.Context, data []byte) (cascade.Report, int, error) {
	frame, err := h.decode(data)
	if err != nil {
		return cascade.Report{}, http.StatusBadRequest, fmt.Errorf("invalid image: %w", err)
	}
	defer frame.Close()
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}
	res, err := h.cascade.Predict(ctx, frame)
	switch {
	case err == nil:
		return res.Report(), http.StatusOK, nil
	case errors.Is(err, context.DeadlineExceeded):
		return cascade.Report{}, http.StatusGatewayTimeout, err
	case errors.Is(err, cascade.ErrPrimary):
		return cascade.Report{}, http.StatusBadGateway, err
	default:
		return cascade.Report{}, http.StatusInternalServerError, err
	}
}

// stream runs the cascade on every frame sent over the socket. Binary
// messages carry encoded images, text messages base64 or data URLs.
func (h *Handler) stream(c *gin.Context) {
	monitor.HTTPTotal.WithLabelValues("ws").Inc()
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxImageBytes)
	ctx := c.Request.Context()
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Log().Info("Websocket closed", zap.Error(err))
			}
			return
		}
		var data []byte
		switch mt {
		case websocket.BinaryMessage:
			data = msg
		case websocket.TextMessage:
			data, err = decodeBase64(string(msg))
			if err != nil {
				_ = conn.WriteJSON(gin.H{"error": fmt.Sprintf("invalid image: %v", err)})
				continue
			}
		default:
			_ = conn.WriteJSON(gin.H{"error": "unsupported message type"})
			continue
		}
		report, _, err := h.run(ctx, data)
		if err != nil {
			_ = conn.WriteJSON(gin.H{"error": err.Error()})
			continue
		}
		if err := conn.WriteJSON(gin.H{"data": report}); err != nil {
			logger.Log().Warn("Websocket write failed", zap.Error(err))
			return
		}
	}
}
