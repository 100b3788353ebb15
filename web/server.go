package web

import (
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"LaneDetServer/engine"
	iface "LaneDetServer/interface"
	"LaneDetServer/lane"
	"LaneDetServer/logger"
	"LaneDetServer/monitor"
	"LaneDetServer/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxFrameBytes = 20 * 1024 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// instance is a websocket attached to one session.
type instance struct {
	id          string
	backend     iface.Backend
	lastActive  atomic.Int64
	conn        *websocket.Conn
	writeMu     sync.Mutex
	closeOnce   sync.Once
	cancelTimer chan struct{}
	cancelOnce  sync.Once
}

func (inst *instance) touch() {
	inst.lastActive.Store(time.Now().UnixNano())
}

func (inst *instance) idleFor() time.Duration {
	return time.Since(time.Unix(0, inst.lastActive.Load()))
}

func (inst *instance) writeJSON(v any) error {
	inst.writeMu.Lock()
	defer inst.writeMu.Unlock()
	return inst.conn.WriteJSON(v)
}

type Server struct {
	Sessions    *session.Registry
	Defaults    iface.EngineConfig
	IdleTimeout time.Duration

	mu       sync.Mutex
	attached map[string]*instance
	log      *zap.Logger
}

func NewServer(reg *session.Registry, defaults iface.EngineConfig, idleTimeout time.Duration) *Server {
	return &Server{
		Sessions:    reg,
		Defaults:    defaults,
		IdleTimeout: idleTimeout,
		attached:    make(map[string]*instance),
		log:         logger.Named("web"),
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/metrics", gin.WrapH(monitor.Handler()))

	api := r.Group("/api/sessions")
	api.POST("", s.openSession)
	api.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": s.Sessions.List()})
	})
	api.GET("/:id", func(c *gin.Context) {
		info, err := s.Sessions.Info(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": info})
	})
	api.POST("/:id/reset", func(c *gin.Context) {
		b, err := s.Sessions.Get(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		b.Reset()
		c.JSON(http.StatusOK, gin.H{"data": "Session reset"})
	})
	api.DELETE("/:id", func(c *gin.Context) {
		id := c.Param("id")
		if s.detach(id, "session closed") {
			c.JSON(http.StatusOK, gin.H{"data": "Session released"})
			return
		}
		if err := s.Sessions.Close(id); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": "Session released"})
	})
	api.POST("/:id/detect", s.detectOnce)

	r.GET("/ws/:id", s.serveWS)
	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		monitor.HTTPTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func (s *Server) openSession(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req, err := session.DecodeOpenRequest(body, s.Defaults)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := s.Sessions.Open(req.Engine(), req.Description)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"sessionID": id,
		"wsURL":     fmt.Sprintf("ws://%s/ws/%s", c.Request.Host, id),
		"timeoutMs": s.IdleTimeout.Milliseconds(),
	}})
}

func (s *Server) detectOnce(c *gin.Context) {
	b, err := s.Sessions.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := detect(b, body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (s *Server) serveWS(c *gin.Context) {
	id := c.Param("id")
	b, err := s.Sessions.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	inst := &instance{id: id, backend: b, cancelTimer: make(chan struct{})}
	inst.touch()

	s.mu.Lock()
	if _, busy := s.attached[id]; busy {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "Session already has a stream"})
		return
	}
	s.attached[id] = inst
	s.mu.Unlock()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already answered
		s.mu.Lock()
		delete(s.attached, id)
		s.mu.Unlock()
		return
	}
	inst.conn = conn
	conn.SetReadLimit(maxFrameBytes)

	s.startIdleMonitor(inst)
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			s.log.Info("stream closed", zap.String("session", id), zap.Error(err))
			s.detach(id, "connection closed")
			return
		}
		inst.touch()

		var payload []byte
		switch mt {
		case websocket.BinaryMessage:
			payload = msg
		case websocket.TextMessage:
			text := strings.TrimSpace(string(msg))
			if text == "reset" {
				inst.backend.Reset()
				_ = inst.writeJSON(gin.H{"data": "Session reset"})
				continue
			}
			payload, err = decodeBase64(text)
			if err != nil {
				_ = inst.writeJSON(gin.H{"error": fmt.Sprintf("invalid image: %v", err)})
				continue
			}
		default:
			_ = inst.writeJSON(gin.H{"error": "unsupported message type"})
			continue
		}

		res, err := detect(inst.backend, payload)
		if err != nil {
			_ = inst.writeJSON(gin.H{"error": err.Error()})
			continue
		}
		_ = inst.writeJSON(gin.H{"data": res})
	}
}

func (s *Server) startIdleMonitor(inst *instance) {
	if s.IdleTimeout <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(s.tick())
		defer ticker.Stop()
		for {
			select {
			case <-inst.cancelTimer:
				return
			case <-ticker.C:
				if inst.idleFor() > s.IdleTimeout {
					s.log.Info("idle stream released", zap.String("session", inst.id))
					s.detach(inst.id, fmt.Sprintf("%d ms not active, released", s.IdleTimeout.Milliseconds()))
					return
				}
			}
		}
	}()
}

func (s *Server) tick() time.Duration {
	t := s.IdleTimeout / 20
	if t < 10*time.Millisecond {
		t = 10 * time.Millisecond
	}
	if t > 50*time.Millisecond {
		t = 50 * time.Millisecond
	}
	return t
}

// detach closes the websocket of a session, if any, and closes the session.
// It reports whether a websocket was attached.
func (s *Server) detach(id, reason string) bool {
	s.mu.Lock()
	inst, ok := s.attached[id]
	if ok {
		delete(s.attached, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	inst.closeOnce.Do(func() {
		if inst.conn != nil {
			inst.writeMu.Lock()
			_ = inst.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
			inst.writeMu.Unlock()
			_ = inst.conn.Close()
		}
	})
	inst.cancelOnce.Do(func() {
		close(inst.cancelTimer)
	})
	if err := s.Sessions.Close(id); err != nil && !errors.Is(err, session.ErrNotFound) {
		s.log.Warn("close session", zap.String("session", id), zap.Error(err))
	}
	return true
}

// CloseAll drops every websocket; used on shutdown.
func (s *Server) CloseAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.attached))
	for id := range s.attached {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.detach(id, "server shutting down")
	}
}

func detect(b iface.Backend, encoded []byte) (iface.LaneResult, error) {
	img, err := engine.DecodeGray(encoded)
	if err != nil {
		monitor.ObserveError()
		return iface.LaneResult{}, err
	}
	return runDetect(b, img)
}

func runDetect(b iface.Backend, img *image.Gray) (iface.LaneResult, error) {
	ret := b.Detect(img)
	if !ret.Success {
		if err, ok := ret.Data.(error); ok {
			return iface.LaneResult{}, err
		}
		return iface.LaneResult{}, fmt.Errorf("detect failed: %v", ret.Data)
	}
	res, ok := ret.Data.(iface.LaneResult)
	if !ok {
		return iface.LaneResult{}, fmt.Errorf("unexpected result type %T", ret.Data)
	}
	return res, nil
}

// decodeBase64 accepts plain base64 or a data URL.
func decodeBase64(b64 string) ([]byte, error) {
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	return base64.StdEncoding.DecodeString(b64)
}

func writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, session.ErrLimit):
		code = http.StatusTooManyRequests
	case errors.Is(err, engine.ErrBusy), errors.Is(err, engine.ErrNotLoaded), errors.Is(err, engine.ErrNotRegistered):
		code = http.StatusConflict
	case errors.Is(err, engine.ErrBadImage), errors.Is(err, lane.ErrEmptyFrame):
		code = http.StatusBadRequest
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
