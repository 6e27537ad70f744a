// Package caststream mirrors a log session over WebSocket (and a small HTML
// viewer) so others can follow the same ordered transcript without running
// tklogs themselves.
package caststream

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/example/tklogs/internal/resource"
	"github.com/example/tklogs/internal/stream"
)

type Mode int

const (
	ModeWeb Mode = iota
	ModeWS
)

const defaultBacklog = 512

// Option configures the caststream server.
type Option func(*Server)

// WithTitle overrides the page title of the HTML viewer.
func WithTitle(title string) Option {
	return func(s *Server) {
		if title != "" {
			s.title = title
		}
	}
}

// WithBacklog sets how many frames late joiners are replayed.
func WithBacklog(n int) Option {
	return func(s *Server) {
		if n >= 0 {
			s.hub.backlogSize = n
		}
	}
}

// Server exposes the session's lines as JSON frames on /ws.
type Server struct {
	addr     string
	mode     Mode
	info     string
	title    string
	logger   logr.Logger
	hub      *hub
	upgrader websocket.Upgrader
	index    *template.Template
}

// New builds a Server listening on addr once Run is called.
func New(addr string, mode Mode, info string, logger logr.Logger, opts ...Option) *Server {
	server := &Server{
		addr:   addr,
		mode:   mode,
		info:   info,
		title:  "tklogs mirror",
		logger: logger.WithName("caststream"),
		hub:    newHub(logger, defaultBacklog),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	server.index = template.Must(template.New("log_mirror").Parse(logMirrorHTML))
	for _, opt := range opts {
		if opt != nil {
			opt(server)
		}
	}
	return server
}

// Handler returns the HTTP routes served by the mirror.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.mode == ModeWeb {
		mux.HandleFunc("/", s.handleIndex)
	}
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprint(w, "ok")
	})
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.hub.Close()
	}()
	s.logger.V(1).Info("cast listener ready", "addr", s.addr, "mode", s.mode.String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Frame is the JSON payload written to WebSocket clients.
type Frame struct {
	Type      string `json:"type"`
	Timestamp string `json:"ts"`
	Namespace string `json:"namespace"`
	Pod       string `json:"pod"`
	Container string `json:"container"`
	Ordinal   int    `json:"ordinal"`
	Line      string `json:"line,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ObserveLine satisfies stream.LineObserver.
func (s *Server) ObserveLine(line stream.Line) {
	s.broadcast(Frame{
		Type:      "line",
		Timestamp: line.Time.UTC().Format(time.RFC3339Nano),
		Namespace: line.Identity.Namespace,
		Pod:       line.Identity.Pod,
		Container: line.Container,
		Ordinal:   line.Ordinal,
		Line:      stripANSI(line.Text),
	})
}

// PaneMounted satisfies stream.PaneObserver.
func (s *Server) PaneMounted(id resource.Identity, pane stream.PaneView) {
	s.broadcast(paneFrame("pane", id, pane))
}

// PaneCompleted satisfies stream.PaneObserver.
func (s *Server) PaneCompleted(id resource.Identity, pane stream.PaneView) {
	s.broadcast(paneFrame("done", id, pane))
}

func paneFrame(kind string, id resource.Identity, pane stream.PaneView) Frame {
	f := Frame{
		Type:      kind,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Namespace: id.Namespace,
		Pod:       id.Pod,
		Container: pane.Name,
		Ordinal:   pane.Ordinal,
	}
	if pane.Err != nil {
		f.Error = pane.Err.Error()
	}
	return f
}

func (s *Server) broadcast(f Frame) {
	if s == nil {
		return
	}
	payload, err := json.Marshal(f)
	if err != nil {
		s.logger.Error(err, "encode cast payload")
		return
	}
	s.hub.Broadcast(payload)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	var buf bytes.Buffer
	data := struct{ Title, Info string }{Title: s.title, Info: s.info}
	if err := s.index.Execute(&buf, data); err != nil {
		s.logger.Error(err, "render log mirror page")
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error(err, "upgrade cast websocket")
		return
	}
	client := newClient(conn, s.logger, s.hub.backlogSize)
	s.hub.Register(client)
	go client.writeLoop()
	client.readLoop(func() {
		s.hub.Unregister(client)
	})
}

type hub struct {
	mu          sync.RWMutex
	clients     map[*client]struct{}
	backlog     [][]byte
	backlogSize int
	logger      logr.Logger
}

func newHub(logger logr.Logger, backlog int) *hub {
	return &hub{clients: make(map[*client]struct{}), backlogSize: backlog, logger: logger}
}

// Register adds c and replays the backlog to it before any new frame.
func (h *hub) Register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, msg := range h.backlog {
		select {
		case c.send <- msg:
		default:
		}
	}
	h.clients[c] = struct{}{}
}

func (h *hub) Unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.Close()
}

func (h *hub) Broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.backlogSize > 0 {
		if len(h.backlog) >= h.backlogSize {
			h.backlog = append(h.backlog[:0], h.backlog[len(h.backlog)-h.backlogSize+1:]...)
		}
		h.backlog = append(h.backlog, msg)
	}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Info("dropping cast client for slow reader")
			go h.Unregister(c)
		}
	}
}

func (h *hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.Close()
		delete(h.clients, c)
	}
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	sendBuffer = 256
)

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	logger logr.Logger
	once   sync.Once
}

func newClient(conn *websocket.Conn, logger logr.Logger, backlog int) *client {
	return &client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer+backlog),
		logger: logger,
	}
}

func (c *client) writeLoop() {
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.logger.Error(err, "write cast websocket message")
			return
		}
	}
}

func (c *client) readLoop(onClose func()) {
	defer func() {
		if onClose != nil {
			onClose()
		}
	}()
	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) Close() {
	c.once.Do(func() {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (m Mode) String() string {
	switch m {
	case ModeWS:
		return "ws"
	case ModeWeb:
		return "web"
	default:
		return "unknown"
	}
}

var (
	ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

	//go:embed templates/log_mirror.html
	logMirrorHTML string
)

func stripANSI(text string) string {
	if text == "" {
		return text
	}
	return ansiEscape.ReplaceAllString(text, "")
}
