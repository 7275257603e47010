package web

import (
	"context"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

const (
	LivenessPath   = "/health/live"
	ReadinessPath  = "/health/ready"
	StatisticsPath = "/statistics"
)

type Server struct {
	app *fiber.App
}

func NewServer(handlers *OpsHandlers) *Server {
	app := fiber.New(fiber.Config{
		AppName:     "mediaflow-worker",
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,
	})
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(LivenessPath, healthcheck.NewHealthChecker())
	app.Get(ReadinessPath, handlers.Ready)
	app.Get(StatisticsPath, handlers.Statistics)

	return &Server{app: app}
}

// App exposes the fiber application for in-process requests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start blocks serving on port until Shutdown is called.
func (s *Server) Start(port int) error {
	return s.app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
