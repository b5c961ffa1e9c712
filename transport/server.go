package transport

import (
	"net"

	"github.com/goccy/go-json"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

const (
	SocketPath = "/socket"
	HealthPath = "/health"
)

type HealthReply struct {
	IsServerRunning   bool `json:"isServerRunning"`
	IsGameLoopRunning bool `json:"isGameLoopRunning"`
}

// Server serves the socket endpoint and a health check over fiber.
type Server struct {
	app    *fiber.App
	hub    *Hub
	logger zerolog.Logger
}

// NewServer creates the server. loopRunning feeds the health check.
func NewServer(hub *Hub, logger zerolog.Logger, loopRunning func() bool) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			JSONEncoder:           json.Marshal,
			JSONDecoder:           json.Unmarshal,
		}),
		hub:    hub,
		logger: logger,
	}

	s.app.Get(HealthPath, func(c *fiber.Ctx) error {
		return c.JSON(HealthReply{
			IsServerRunning:   true,
			IsGameLoopRunning: loopRunning(),
		})
	})
	s.app.Use(SocketPath, upgrader)
	s.app.Get(SocketPath, websocket.New(func(conn *websocket.Conn) {
		hub.Serve(conn, conn.Query("mode"), conn.Query("gameId"))
	}))
	return s
}

func upgrader(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return eris.Wrap(c.Next(), "")
	}
	return fiber.ErrUpgradeRequired
}

// Serve listens on port until Shutdown is called.
func (s *Server) Serve(port string) error {
	s.logger.Info().Str("port", port).Msg("starting socket server")
	if err := s.app.Listen(":" + port); err != nil {
		return eris.Wrap(err, "socket server stopped")
	}
	return nil
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ln net.Listener) error {
	s.logger.Info().Str("address", ln.Addr().String()).Msg("starting socket server")
	if err := s.app.Listener(ln); err != nil {
		return eris.Wrap(err, "socket server stopped")
	}
	return nil
}

// Shutdown closes every session and stops the listener.
func (s *Server) Shutdown() error {
	s.hub.Close()
	if err := s.app.Shutdown(); err != nil {
		return eris.Wrap(err, "failed to shut down socket server")
	}
	s.logger.Info().Msg("socket server stopped")
	return nil
}
