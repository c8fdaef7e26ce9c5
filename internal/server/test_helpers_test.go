package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/cinder/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/cinder/backend/internal/database"
	"github.com/MarcoPoloResearchLab/cinder/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/cinder/backend/internal/stats"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// sequenceProvider hands out predetermined identifiers and tokens so routes
// under test produce stable links.
type sequenceProvider struct {
	ids        []string
	tokens     []string
	idIndex    int
	tokenIndex int
}

func (p *sequenceProvider) NewID() (string, error) {
	if p.idIndex >= len(p.ids) {
		return "", errors.New("exhausted ids")
	}
	id := p.ids[p.idIndex]
	p.idIndex++
	return id, nil
}

func (p *sequenceProvider) NewToken() (string, error) {
	if p.tokenIndex >= len(p.tokens) {
		return "", errors.New("exhausted tokens")
	}
	tokenValue := p.tokens[p.tokenIndex]
	p.tokenIndex++
	return tokenValue, nil
}

type testEnv struct {
	handler http.Handler
	db      *gorm.DB
	clock   *testClock
	stats   *stats.Service
}

type testClock struct {
	millis int64
}

func (c *testClock) now() time.Time {
	return time.UnixMilli(c.millis).UTC()
}

func (c *testClock) advance(d time.Duration) {
	c.millis += d.Milliseconds()
}

func newTestEnv(t *testing.T, provider *sequenceProvider) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:cinder_server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.OpenSQLite(dsn, nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	clock := &testClock{millis: 1700000000000}

	noteService, err := notes.NewService(notes.ServiceConfig{Database: db, Clock: clock.now})
	if err != nil {
		t.Fatalf("failed to construct note service: %v", err)
	}
	chatService, err := chat.NewService(chat.ServiceConfig{Database: db, Clock: clock.now})
	if err != nil {
		t.Fatalf("failed to construct chat service: %v", err)
	}
	statsService, err := stats.NewService(stats.ServiceConfig{Database: db, Clock: clock.now})
	if err != nil {
		t.Fatalf("failed to construct stats service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Notes:  noteService,
		Chats:  chatService,
		Stats:  statsService,
		Tokens: provider,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	return &testEnv{handler: handler, db: db, clock: clock, stats: statsService}
}

func (env *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, target, http.NoBody)
	} else {
		request = httptest.NewRequest(method, target, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}

	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	return recorder
}
