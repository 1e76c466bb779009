package alert

import (
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"risk_engine/internal/core"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// StreamHandler upgrades HTTP requests to alert websocket streams
type StreamHandler struct {
	hub            *Hub
	logger         core.ILogger
	upgrader       websocket.Upgrader
	allowedOrigins []string
	connSemaphore  chan struct{}
	ipLimiters     sync.Map // map[string]*rate.Limiter
	rateLimit      rate.Limit
	rateBurst      int
}

// NewStreamHandler creates a handler accepting at most maxConnections subscribers
func NewStreamHandler(hub *Hub, allowedOrigins []string, maxConnections int, logger core.ILogger) *StreamHandler {
	if maxConnections <= 0 {
		maxConnections = 1000
	}
	s := &StreamHandler{
		hub:            hub,
		logger:         logger.WithField("component", "alert_stream"),
		allowedOrigins: allowedOrigins,
		connSemaphore:  make(chan struct{}, maxConnections),
		rateLimit:      10,
		rateBurst:      20,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *StreamHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients do not send Origin.
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		s.logger.Warn("Rejected websocket connection with invalid Origin", "origin", origin, "error", err)
		return false
	}
	originStr := parsed.Scheme + "://" + parsed.Host

	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == originStr {
			return true
		}
	}

	s.logger.Warn("Rejected websocket connection from unauthorized origin", "origin", origin, "remote_addr", r.RemoteAddr)
	return false
}

func (s *StreamHandler) ipLimiter(ip string) *rate.Limiter {
	if v, ok := s.ipLimiters.Load(ip); ok {
		return v.(*rate.Limiter)
	}
	v, _ := s.ipLimiters.LoadOrStore(ip, rate.NewLimiter(s.rateLimit, s.rateBurst))
	return v.(*rate.Limiter)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ServeHTTP streams the caller's alerts. The caller is identified by
// X-User-ID, or the user_id query parameter for browser clients.
func (s *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	if userID == "" {
		http.Error(w, "missing user id", http.StatusUnauthorized)
		return
	}

	ip := remoteIP(r)
	if !s.ipLimiter(ip).Allow() {
		s.logger.Warn("IP rate limit exceeded", "ip", ip)
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	select {
	case s.connSemaphore <- struct{}{}:
		defer func() { <-s.connSemaphore }()
	default:
		s.logger.Warn("Max connections reached")
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	client := NewClient(uuid.New().String(), userID)
	s.hub.Register(client)
	s.logger.Info("Client connected", "client_id", client.id, "user_id", userID, "remote_addr", r.RemoteAddr)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer conn.Close()
		s.writePump(conn, client)
	}()
	go func() {
		defer wg.Done()
		s.readPump(conn, client)
	}()
	wg.Wait()

	s.logger.Info("Client disconnected", "client_id", client.id)
}

func (s *StreamHandler) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.GetSendChan():
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Warn("Write error", "client_id", client.id, "error", err)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *StreamHandler) readPump(conn *websocket.Conn, client *Client) {
	defer s.hub.Unregister(client)

	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("Read error", "client_id", client.id, "error", err)
			}
			return
		}
	}
}
