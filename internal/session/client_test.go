package session

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:  baseURL,
		DeviceID: "bedroom-pi",
		Timeout:  5 * time.Second,
	}
}

func TestNewClientValidation(t *testing.T) {
	logger := testLogger()

	if _, err := NewClient(Config{DeviceID: "pi"}, logger); err == nil {
		t.Error("Expected error for empty base URL")
	}

	if _, err := NewClient(Config{BaseURL: "http://x"}, logger); err == nil {
		t.Error("Expected error for empty device ID")
	}
}

func TestStartSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/sessions/start" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "session-42"}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL), testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	id, err := client.StartSession(context.Background())
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	if id != "session-42" {
		t.Errorf("Expected session id session-42, got %s", id)
	}
	if client.SessionID() != "session-42" {
		t.Errorf("Session id not retained, got %s", client.SessionID())
	}
}

func TestStartSessionServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client, _ := NewClient(testConfig(server.URL), testLogger())

	if _, err := client.StartSession(context.Background()); err == nil {
		t.Error("Expected error for 500 response")
	}
	if client.SessionID() != "" {
		t.Error("Failed start must not set a session id")
	}
}

func TestUploadClipFields(t *testing.T) {
	var gotFields map[string]string
	var gotFile []byte
	var gotFilename string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/audio/upload" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm failed: %v", err)
		}

		gotFields = map[string]string{}
		for key := range r.MultipartForm.Value {
			gotFields[key] = r.FormValue(key)
		}

		file, header, err := r.FormFile("audio")
		if err != nil {
			t.Fatalf("FormFile failed: %v", err)
		}
		defer file.Close()
		gotFilename = header.Filename
		gotFile, _ = io.ReadAll(file)

		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, _ := NewClient(testConfig(server.URL), testLogger())
	client.setSessionID("session-7")

	ts := time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)
	err := client.UploadClip(context.Background(), UploadRequest{
		Filename:  "audio_20240101_020000.wav",
		Data:      []byte("RIFF-data"),
		Timestamp: ts,
		Level:     42.5,
	})
	if err != nil {
		t.Fatalf("UploadClip failed: %v", err)
	}

	if gotFilename != "audio_20240101_020000.wav" {
		t.Errorf("Unexpected filename: %s", gotFilename)
	}
	if string(gotFile) != "RIFF-data" {
		t.Errorf("Unexpected file content: %q", gotFile)
	}
	if gotFields["piId"] != "bedroom-pi" {
		t.Errorf("Unexpected piId: %s", gotFields["piId"])
	}
	if gotFields["sessionId"] != "session-7" {
		t.Errorf("Unexpected sessionId: %s", gotFields["sessionId"])
	}
	if gotFields["timestamp"] != ts.Format(time.RFC3339) {
		t.Errorf("Unexpected timestamp: %s", gotFields["timestamp"])
	}
	if gotFields["audioLevel"] != "42.5" {
		t.Errorf("Unexpected audioLevel: %s", gotFields["audioLevel"])
	}
}

func TestUploadClipAdoptsSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sessionId": "abc123"}`))
	}))
	defer server.Close()

	client, _ := NewClient(testConfig(server.URL), testLogger())

	err := client.UploadClip(context.Background(), UploadRequest{
		Filename:  "audio_20240101_020000.wav",
		Data:      []byte("data"),
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("UploadClip failed: %v", err)
	}

	if client.SessionID() != "abc123" {
		t.Errorf("Expected adopted session abc123, got %s", client.SessionID())
	}
}

func TestUploadClipKeepsExistingSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sessionId": "other"}`))
	}))
	defer server.Close()

	client, _ := NewClient(testConfig(server.URL), testLogger())
	client.setSessionID("mine")

	err := client.UploadClip(context.Background(), UploadRequest{
		Filename:  "audio_20240101_020000.wav",
		Data:      []byte("data"),
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("UploadClip failed: %v", err)
	}

	if client.SessionID() != "mine" {
		t.Errorf("Active session must not be replaced, got %s", client.SessionID())
	}
}

func TestUploadClipServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "storage full", http.StatusInsufficientStorage)
	}))
	defer server.Close()

	client, _ := NewClient(testConfig(server.URL), testLogger())

	err := client.UploadClip(context.Background(), UploadRequest{
		Filename:  "audio_20240101_020000.wav",
		Data:      []byte("data"),
		Timestamp: time.Now(),
	})
	if err == nil {
		t.Error("Expected error for non-200 response")
	}
}

func TestEndSession(t *testing.T) {
	var endCalled, scoreCalled bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/sessions/session-9/end":
			endCalled = true
		case "/api/sessions/session-9/calculate-score":
			scoreCalled = true
		default:
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, _ := NewClient(testConfig(server.URL), testLogger())
	client.setSessionID("session-9")

	if !client.EndSession(context.Background()) {
		t.Error("EndSession should report success")
	}
	if !endCalled {
		t.Error("End endpoint was not called")
	}
	if !scoreCalled {
		t.Error("Score endpoint was not called")
	}
	if client.SessionID() != "" {
		t.Errorf("Session id should be cleared, got %s", client.SessionID())
	}

	// Idempotent with no active session
	if client.EndSession(context.Background()) {
		t.Error("EndSession without a session should be a no-op")
	}
}

func TestStaticClient(t *testing.T) {
	var gotSessionID string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm failed: %v", err)
		}
		gotSessionID = r.FormValue("sessionId")
		w.Write([]byte(`{"sessionId": "assigned-by-collector"}`))
	}))
	defer server.Close()

	static, err := NewStatic(testConfig(server.URL), testLogger())
	if err != nil {
		t.Fatalf("NewStatic failed: %v", err)
	}

	if id, err := static.StartSession(context.Background()); err != nil || id != "" {
		t.Errorf("StartSession should be a no-op, got id=%q err=%v", id, err)
	}

	err = static.UploadClip(context.Background(), UploadRequest{
		Filename:  "audio_20240101_020000.wav",
		Data:      []byte("data"),
		Timestamp: time.Now(),
		Level:     12.34,
	})
	if err != nil {
		t.Fatalf("UploadClip failed: %v", err)
	}

	if gotSessionID != "" {
		t.Errorf("Expected empty sessionId, got %s", gotSessionID)
	}

	// A session id in the response is not adopted
	err = static.UploadClip(context.Background(), UploadRequest{
		Filename:  "audio_20240101_020100.wav",
		Data:      []byte("data"),
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("Second UploadClip failed: %v", err)
	}
	if gotSessionID != "" {
		t.Errorf("Homemic uploads must stay sessionless, got %s", gotSessionID)
	}

	if static.EndSession(context.Background()) {
		t.Error("EndSession should be a no-op")
	}
	if static.SessionID() != "" {
		t.Error("SessionID should always be empty")
	}
}
