// Package catalogtest provides an in-process fake of the remote catalog
// for client and coordinator tests.
//
// The fake implements the two real endpoints (POST /content/share, DELETE
// /content/{public_id}) with scriptable failures and full request capture,
// so tests can drive every branch of the error taxonomy without a network.
package catalogtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// PublishRequest is one captured publish call, decoded loosely so tests
// can assert on individual wire fields.
type PublishRequest struct {
	Raw    []byte
	Fields map[string]any
}

// PublicID extracts the public_id field from the captured payload.
func (r PublishRequest) PublicID() string {
	id, _ := r.Fields["public_id"].(string)
	return id
}

// Title extracts the title field from the captured payload.
func (r PublishRequest) Title() string {
	t, _ := r.Fields["title"].(string)
	return t
}

// Server is the fake catalog. Zero value is not usable; call New.
type Server struct {
	mu sync.Mutex

	httpServer *httptest.Server

	token       string // required bearer token; empty accepts anything
	publishedAt time.Time
	author      string

	// forced response sequencing: each publish/unpublish call consumes the
	// next forced status; when the list is empty, calls succeed.
	forcedStatuses []int

	published   map[string]bool // taken public identifiers
	publishLog  []PublishRequest
	unpublished []string
}

// New starts a fake catalog server. Close it with Close.
func New() *Server {
	s := &Server{
		publishedAt: time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
		author:      "testauthor",
		published:   map[string]bool{},
	}

	e := echo.New()
	e.HideBanner = true
	e.POST("/content/share", s.handlePublish)
	e.DELETE("/content/:public_id", s.handleUnpublish)

	s.httpServer = httptest.NewServer(e)
	return s
}

// URL returns the base URL of the fake.
func (s *Server) URL() string {
	return s.httpServer.URL
}

// Close shuts the fake down.
func (s *Server) Close() {
	s.httpServer.Close()
}

// RequireToken makes the fake reject requests without this bearer token.
func (s *Server) RequireToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// ForceStatuses scripts the next responses: each call consumes one status
// from the list. Use 0 to let a call through to normal handling.
func (s *Server) ForceStatuses(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forcedStatuses = append(s.forcedStatuses, statuses...)
}

// MarkTaken pre-registers a public identifier so a publish for it conflicts.
func (s *Server) MarkTaken(publicID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published[publicID] = true
}

// PublishCalls returns captured publish requests in arrival order.
func (s *Server) PublishCalls() []PublishRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PublishRequest(nil), s.publishLog...)
}

// UnpublishCalls returns the public identifiers of captured unpublish
// requests in arrival order.
func (s *Server) UnpublishCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.unpublished...)
}

// nextForced pops the next scripted status, or 0 for none.
func (s *Server) nextForced() int {
	if len(s.forcedStatuses) == 0 {
		return 0
	}
	status := s.forcedStatuses[0]
	s.forcedStatuses = s.forcedStatuses[1:]
	return status
}

// checkAuth validates the bearer token when one is required.
func (s *Server) checkAuth(c echo.Context) bool {
	if s.token == "" {
		return true
	}
	return c.Request().Header.Get("Authorization") == "Bearer "+s.token
}

func (s *Server) handlePublish(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.checkAuth(c) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not_authenticated"})
	}

	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid json"})
	}
	// Capture before the forced-status branch so failed attempts still
	// show up in the call log.
	req := PublishRequest{Raw: raw, Fields: fields}
	s.publishLog = append(s.publishLog, req)

	if status := s.nextForced(); status != 0 {
		return c.JSON(status, echo.Map{"error": "forced failure"})
	}

	publicID := req.PublicID()
	if publicID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing public_id"})
	}
	if s.published[publicID] {
		return c.JSON(http.StatusConflict, echo.Map{"error": "duplicate public_id"})
	}
	s.published[publicID] = true

	return c.JSON(http.StatusCreated, echo.Map{
		"id":              "srv-" + publicID,
		"public_id":       publicID,
		"published_at":    s.publishedAt.Format(time.RFC3339),
		"author_username": s.author,
		"can_fork":        true,
	})
}

func (s *Server) handleUnpublish(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.checkAuth(c) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not_authenticated"})
	}

	publicID := strings.TrimSpace(c.Param("public_id"))
	s.unpublished = append(s.unpublished, publicID)

	if status := s.nextForced(); status != 0 {
		return c.JSON(status, echo.Map{"error": "forced failure"})
	}

	if !s.published[publicID] {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "already gone"})
	}
	delete(s.published, publicID)

	return c.NoContent(http.StatusNoContent)
}
