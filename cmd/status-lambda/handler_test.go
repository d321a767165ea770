package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fpang/voice-draft-pipeline/internal/objstore"
	"github.com/fpang/voice-draft-pipeline/internal/recording"
)

func newTestServer(t *testing.T) (*statusServer, *objstore.Memory) {
	t.Helper()
	store := objstore.NewMemory()
	return &statusServer{store: store, bucket: "media"}, store
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, recording.Status) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var st recording.Status
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
			t.Fatalf("decode body: %v", err)
		}
	}
	return rec, st
}

func TestStatus_PendingPartialFinal(t *testing.T) {
	s, store := newTestServer(t)
	h := s.routes()
	ctx := context.Background()

	rec, st := get(t, h, "/sessions/rec-1/transcript")
	if rec.Code != http.StatusOK || st.State != recording.StatePending || st.Chunks != 0 {
		t.Fatalf("pending: %d %+v", rec.Code, st)
	}

	_ = store.WriteText(ctx, "media", recording.ChunkTranscriptKey("rec-1", 1), "second")
	_ = store.WriteText(ctx, "media", recording.ChunkTranscriptKey("rec-1", 0), "first")
	_, st = get(t, h, "/sessions/rec-1/transcript")
	if st.State != recording.StatePartial || st.Chunks != 2 || st.Text != "first\nsecond" {
		t.Fatalf("partial: %+v", st)
	}

	_ = store.WriteText(ctx, "media", recording.FinalTranscriptKey("rec-1"), "final text")
	_, st = get(t, h, "/sessions/rec-1/transcript")
	if st.State != recording.StateFinal || st.Text != "final text" {
		t.Fatalf("final: %+v", st)
	}
	if store.Writes("media", recording.FinalTranscriptKey("rec-1")) != 1 {
		t.Error("status read must not write")
	}
}

func TestStatus_BadRequests(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.routes()
	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/sessions/rec-1/chunks", http.StatusNotFound},
		{http.MethodGet, "/sessions/rec-1", http.StatusNotFound},
		{http.MethodPost, "/sessions/rec-1/transcript", http.StatusMethodNotAllowed},
		{http.MethodGet, "/sessions/!!/transcript", http.StatusBadRequest},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}
}

func TestStatus_SanitizesSessionIDLikeWorkers(t *testing.T) {
	s, store := newTestServer(t)
	session, err := recording.SanitizeSessionID("sess.1")
	if err != nil {
		t.Fatal(err)
	}
	_ = store.WriteText(context.Background(), "media", recording.FinalTranscriptKey(session), "assembled text")

	rec, st := get(t, s.routes(), "/sessions/sess.1/transcript")
	if rec.Code != http.StatusOK || st.State != recording.StateFinal || st.Text != "assembled text" || st.SessionID != "sess1" {
		t.Errorf("got %d %+v", rec.Code, st)
	}
}

func TestStatus_GzipWhenAccepted(t *testing.T) {
	s, store := newTestServer(t)
	_ = store.WriteText(context.Background(), "media", recording.FinalTranscriptKey("long"), strings.Repeat("transcript words ", 200))

	req := httptest.NewRequest(http.MethodGet, "/sessions/long/transcript", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip response, headers %v", rec.Header())
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	var st recording.Status
	if err := json.NewDecoder(zr).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.State != recording.StateFinal {
		t.Errorf("unexpected status %+v", st)
	}
}
