package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

func TestNoteRoundTripDestroysAfterFirstRead(t *testing.T) {
	env := newTestEnv(t, &sequenceProvider{ids: []string{"note-1"}})

	created := env.do(t, http.MethodPost, "/api/note", `{"ciphertext":"opaque-blob","ttl_seconds":3600}`)
	if created.Code != http.StatusOK {
		t.Fatalf("unexpected create status %d: %s", created.Code, created.Body.String())
	}
	var createBody map[string]string
	if err := json.Unmarshal(created.Body.Bytes(), &createBody); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}
	if createBody["id"] != "note-1" {
		t.Fatalf("unexpected note id %q", createBody["id"])
	}

	retrieved := env.do(t, http.MethodGet, "/api/note/note-1", "")
	if retrieved.Code != http.StatusOK {
		t.Fatalf("unexpected retrieve status %d", retrieved.Code)
	}
	var retrieveBody struct {
		Success    bool   `json:"success"`
		Ciphertext string `json:"ciphertext"`
	}
	if err := json.Unmarshal(retrieved.Body.Bytes(), &retrieveBody); err != nil {
		t.Fatalf("failed to decode retrieve response: %v", err)
	}
	if !retrieveBody.Success || retrieveBody.Ciphertext != "opaque-blob" {
		t.Fatalf("unexpected retrieve body: %s", retrieved.Body.String())
	}

	second := env.do(t, http.MethodGet, "/api/note/note-1", "")
	var secondBody struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(second.Body.Bytes(), &secondBody); err != nil {
		t.Fatalf("failed to decode second response: %v", err)
	}
	if secondBody.Success {
		t.Fatalf("second read should fail")
	}
	if secondBody.Error != "Note not found or already read" {
		t.Fatalf("unexpected error message %q", secondBody.Error)
	}
}

func TestNoteRetrieveAfterExpiryReportsExpiredThenNotFound(t *testing.T) {
	env := newTestEnv(t, &sequenceProvider{ids: []string{"note-1"}})

	created := env.do(t, http.MethodPost, "/api/note", `{"ciphertext":"opaque-blob","ttl_seconds":1}`)
	if created.Code != http.StatusOK {
		t.Fatalf("unexpected create status %d", created.Code)
	}

	env.clock.advance(2 * time.Second)

	expired := env.do(t, http.MethodGet, "/api/note/note-1", "")
	var expiredBody struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(expired.Body.Bytes(), &expiredBody); err != nil {
		t.Fatalf("failed to decode expired response: %v", err)
	}
	if expiredBody.Success || expiredBody.Error != "Note has expired" {
		t.Fatalf("unexpected expired body: %s", expired.Body.String())
	}

	gone := env.do(t, http.MethodGet, "/api/note/note-1", "")
	var goneBody struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(gone.Body.Bytes(), &goneBody); err != nil {
		t.Fatalf("failed to decode gone response: %v", err)
	}
	if goneBody.Error != "Note not found or already read" {
		t.Fatalf("swept note should be not found, got %q", goneBody.Error)
	}
}

func TestNoteCreateRejectsMissingCiphertext(t *testing.T) {
	env := newTestEnv(t, &sequenceProvider{ids: []string{"note-1"}})

	response := env.do(t, http.MethodPost, "/api/note", `{"ttl_seconds":60}`)
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing ciphertext, got %d", response.Code)
	}
}

func TestNoteCreationRecordsStatsAsynchronously(t *testing.T) {
	env := newTestEnv(t, &sequenceProvider{ids: []string{"note-1"}})

	created := env.do(t, http.MethodPost, "/api/note", `{"ciphertext":"opaque-blob"}`)
	if created.Code != http.StatusOK {
		t.Fatalf("unexpected create status %d", created.Code)
	}

	deadline := time.After(2 * time.Second)
	for {
		report, err := env.stats.Report(context.Background())
		if err != nil {
			t.Fatalf("unexpected report error: %v", err)
		}
		if report.Notes.AllTime == 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("stats recording never landed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
