// Package httpapi provides the rendezvous server's admin/observability
// surface: health and stats endpoints, read-only group/user listing, and
// a live event feed for operators over a websocket.
package httpapi

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"aoo/internal/rendezvous"
)

// Server is the admin HTTP surface running alongside a rendezvous.Server.
type Server struct {
	rdv     *rendezvous.Server
	echo    *echo.Echo
	hub     *eventHub
	version string
}

// New constructs a Server, registers its routes, and subscribes to rdv's
// lifecycle events for the live feed. Version is reported by
// GET /api/version.
func New(rdv *rendezvous.Server, version string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Printf("[httpapi] %s %s %d", v.Method, v.URI, v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = jsonErrorHandler

	s := &Server{rdv: rdv, echo: e, hub: newEventHub(), version: version}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/version", s.handleVersion)
	s.echo.GET("/api/stats", s.handleStats)
	s.echo.GET("/api/groups", s.handleGroups)
	s.echo.GET("/api/users", s.handleUsers)
	s.echo.GET("/ws/events", s.handleEventsWS)
}

// Run starts the HTTP server on addr and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) {
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Printf("[httpapi] server error: %v", err)
		}
	}()
	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutCtx); err != nil {
		log.Printf("[httpapi] shutdown: %v", err)
	}
}

// OnRendezvousEvent adapts a rendezvous.Event into the live feed; pass
// this as rendezvous.Config.OnEvent to wire the two together.
func (s *Server) OnRendezvousEvent(ev rendezvous.Event) {
	s.hub.broadcast(ev)
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func (s *Server) handleHealth(c echo.Context) error {
	stats := s.rdv.Stats()
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Clients: stats.Clients})
}

// VersionResponse is the payload for GET /api/version.
type VersionResponse struct {
	Version string `json:"version"`
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, VersionResponse{Version: s.version})
}

// StatsResponse is the payload for GET /api/stats.
type StatsResponse struct {
	Clients int `json:"clients"`
	Groups  int `json:"groups"`
	Users   int `json:"users"`
}

func (s *Server) handleStats(c echo.Context) error {
	stats := s.rdv.Stats()
	return c.JSON(http.StatusOK, StatsResponse{Clients: stats.Clients, Groups: stats.Groups, Users: stats.Users})
}

// GroupResponse is an element of the GET /api/groups array.
type GroupResponse struct {
	ID         int32  `json:"id"`
	Name       string `json:"name"`
	Persistent bool   `json:"persistent"`
	Members    int    `json:"members"`
}

func (s *Server) handleGroups(c echo.Context) error {
	groups := s.rdv.GroupSummaries()
	resp := make([]GroupResponse, 0, len(groups))
	for _, g := range groups {
		resp = append(resp, GroupResponse{ID: int32(g.ID), Name: g.Name, Persistent: g.Persistent, Members: g.Members})
	}
	return c.JSON(http.StatusOK, resp)
}

// UserResponse is an element of the GET /api/users array.
type UserResponse struct {
	Name string `json:"name"`
}

func (s *Server) handleUsers(c echo.Context) error {
	users := s.rdv.UserSummaries()
	resp := make([]UserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, UserResponse{Name: u.Name})
	}
	return c.JSON(http.StatusOK, resp)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// handleEventsWS upgrades to a websocket and streams lifecycle events to
// the operator until the connection closes.
func (s *Server) handleEventsWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	sub := s.hub.subscribe()
	defer s.hub.unsubscribe(sub)
	defer conn.Close()

	for ev := range sub {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			return nil
		}
	}
	return nil
}

// eventHub fans rendezvous events out to every connected operator
// websocket, mirroring the teacher's signaling server's upgrade-then-
// per-connection-goroutine pattern, repurposed from chat broadcast to
// an ops event feed.
type eventHub struct {
	mu   sync.Mutex
	subs map[chan rendezvous.Event]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[chan rendezvous.Event]struct{})}
}

func (h *eventHub) subscribe() chan rendezvous.Event {
	ch := make(chan rendezvous.Event, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *eventHub) unsubscribe(ch chan rendezvous.Event) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *eventHub) broadcast(ev rendezvous.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; drop rather than block the rendezvous
			// connection goroutine that emitted this event.
		}
	}
}

// jsonErrorHandler ensures all error responses have a consistent JSON
// body: {"error": "message"}.
func jsonErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if !c.Response().Committed {
		if c.Request().Method == http.MethodHead {
			c.NoContent(code) //nolint:errcheck
		} else {
			c.JSON(code, map[string]string{"error": msg}) //nolint:errcheck
		}
	}
}
