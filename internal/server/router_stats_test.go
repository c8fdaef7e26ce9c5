package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
)

func TestStatsEndpointReportsRecordedActivity(t *testing.T) {
	env := newTestEnv(t, &sequenceProvider{})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := env.stats.RecordNote(ctx); err != nil {
			t.Fatalf("failed to record note: %v", err)
		}
	}
	if err := env.stats.RecordChat(ctx); err != nil {
		t.Fatalf("failed to record chat: %v", err)
	}

	response := env.do(t, http.MethodGet, "/api/stats", "")
	if response.Code != http.StatusOK {
		t.Fatalf("unexpected stats status %d: %s", response.Code, response.Body.String())
	}

	var report struct {
		Notes struct {
			Last24h int64 `json:"last_24h"`
			AllTime int64 `json:"all_time"`
		} `json:"notes"`
		Chats struct {
			AllTime int64 `json:"all_time"`
		} `json:"chats"`
		Daily []struct {
			Date      string `json:"date"`
			NoteCount int64  `json:"note_count"`
			ChatCount int64  `json:"chat_count"`
		} `json:"daily"`
		GeneratedAt string `json:"generated_at"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &report); err != nil {
		t.Fatalf("failed to decode stats report: %v", err)
	}

	if report.Notes.Last24h != 3 || report.Notes.AllTime != 3 {
		t.Fatalf("unexpected note windows: %+v", report.Notes)
	}
	if report.Chats.AllTime != 1 {
		t.Fatalf("unexpected chat windows: %+v", report.Chats)
	}
	if len(report.Daily) != 1 {
		t.Fatalf("expected one daily row, got %d", len(report.Daily))
	}
	if report.Daily[0].NoteCount != 3 || report.Daily[0].ChatCount != 1 {
		t.Fatalf("unexpected daily row: %+v", report.Daily[0])
	}
	if report.GeneratedAt == "" {
		t.Fatalf("generated_at should be populated")
	}
}

func TestStatsEndpointReturnsZeroedReportWhenEmpty(t *testing.T) {
	env := newTestEnv(t, &sequenceProvider{})

	response := env.do(t, http.MethodGet, "/api/stats", "")
	if response.Code != http.StatusOK {
		t.Fatalf("unexpected stats status %d", response.Code)
	}

	var report struct {
		Notes struct {
			AllTime int64 `json:"all_time"`
		} `json:"notes"`
		Daily []interface{} `json:"daily"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &report); err != nil {
		t.Fatalf("failed to decode stats report: %v", err)
	}
	if report.Notes.AllTime != 0 {
		t.Fatalf("empty store should report zero notes, got %d", report.Notes.AllTime)
	}
	if len(report.Daily) != 0 {
		t.Fatalf("empty store should report no daily rows, got %d", len(report.Daily))
	}
}
