package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/simhire/callsim/pkg/hub"
)

func (s *Server) handleStatus(c *fiber.Ctx) error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return c.JSON(s.status)
}

func (s *Server) handleTranscript(c *fiber.Ctx) error {
	s.entriesMu.RLock()
	defer s.entriesMu.RUnlock()
	return c.JSON(s.entries)
}

func (s *Server) handleLogs(c *fiber.Ctx) error {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()
	return c.JSON(s.logs)
}

func (s *Server) handleStatusWS(c *websocket.Conn) {
	// New subscribers get the current status before the stream.
	s.stateMu.RLock()
	c.WriteJSON(s.status)
	s.stateMu.RUnlock()

	hub.NewClient(s.statusHub, c).Run()
}

func (s *Server) handleTranscriptWS(c *websocket.Conn) {
	s.entriesMu.RLock()
	for _, entry := range s.entries {
		c.WriteJSON(entry)
	}
	s.entriesMu.RUnlock()

	hub.NewClient(s.transcriptHub, c).Run()
}

func (s *Server) handleLogsWS(c *websocket.Conn) {
	s.logsMu.RLock()
	for _, entry := range s.logs {
		c.WriteJSON(entry)
	}
	s.logsMu.RUnlock()

	hub.NewClient(s.logHub, c).Run()
}
