// Package web serves the observability dashboard: current call state,
// the live transcript, and recent logs. The call pipeline never depends
// on it; everything here is read-only.
package web

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/simhire/callsim/internal/log"
	"github.com/simhire/callsim/pkg/hub"
	"github.com/simhire/callsim/pkg/transcript"
)

// CallStatus is the dashboard's view of the call.
type CallStatus struct {
	CallID      string `json:"call_id"`
	State       string `json:"state"`
	Persona     string `json:"persona"`
	Entries     int    `json:"entries"`
	AvgLatencyM int64  `json:"avg_latency_ms"`
	StartedAt   string `json:"started_at,omitempty"`
}

// LogEntry is one dashboard log line.
type LogEntry struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// TranscriptEntry is a committed utterance with its arrival time.
type TranscriptEntry struct {
	Time    string `json:"time"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Server is the dashboard HTTP and websocket server.
type Server struct {
	app  *fiber.App
	addr string

	stateMu sync.RWMutex
	status  CallStatus

	logsMu sync.RWMutex
	logs   []LogEntry

	entriesMu sync.RWMutex
	entries   []TranscriptEntry

	statusHub     *hub.Hub
	transcriptHub *hub.Hub
	logHub        *hub.Hub
}

// NewServer builds the dashboard on addr. Call Start to serve.
func NewServer(addr string) *Server {
	s := &Server{
		addr:          addr,
		logs:          make([]LogEntry, 0, 500),
		entries:       make([]TranscriptEntry, 0, 100),
		statusHub:     hub.New("status"),
		transcriptHub: hub.New("transcript"),
		logHub:        hub.New("logs"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "callsim dashboard",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/transcript", s.handleTranscript)
	api.Get("/logs", s.handleLogs)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/transcript", websocket.New(s.handleTranscriptWS))
	app.Get("/ws/logs", websocket.New(s.handleLogsWS))

	s.app = app
	return s
}

// Start serves until Shutdown. Blocks.
func (s *Server) Start() error {
	go s.statusHub.Run()
	go s.transcriptHub.Run()
	go s.logHub.Run()

	log.L().Info("dashboard started", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// StartAsync serves in a goroutine, logging any listen failure.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			log.L().Error("dashboard failed", "error", err)
		}
	}()
}

// Shutdown stops the server and disconnects subscribers.
func (s *Server) Shutdown() error {
	s.statusHub.Stop()
	s.transcriptHub.Stop()
	s.logHub.Stop()
	return s.app.Shutdown()
}

// UpdateStatus mutates the call status and broadcasts the new value.
func (s *Server) UpdateStatus(update func(*CallStatus)) {
	s.stateMu.Lock()
	update(&s.status)
	status := s.status
	s.stateMu.Unlock()

	s.statusHub.Publish("state", status)
}

// AddTranscriptEntry records a committed entry and broadcasts it.
func (s *Server) AddTranscriptEntry(e transcript.Entry) {
	entry := TranscriptEntry{
		Time:    time.Now().Format("15:04:05"),
		Speaker: string(e.Speaker),
		Text:    e.Text,
	}

	s.entriesMu.Lock()
	s.entries = append(s.entries, entry)
	if len(s.entries) > 100 {
		s.entries = s.entries[1:]
	}
	s.entriesMu.Unlock()

	s.transcriptHub.Publish("transcript", entry)

	s.UpdateStatus(func(st *CallStatus) { st.Entries++ })
}

// AddLog records a log line and broadcasts it.
func (s *Server) AddLog(level, message string) {
	entry := LogEntry{
		Time:    time.Now().Format("15:04:05"),
		Level:   level,
		Message: message,
	}

	s.logsMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > 500 {
		s.logs = s.logs[1:]
	}
	s.logsMu.Unlock()

	s.logHub.Publish("log", entry)
}
