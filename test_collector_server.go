// Standalone fake collector for manual agent runs. Implements the session,
// upload and node endpoints with in-memory state and verbose logging.
//
// Usage: go run test_collector_server.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

type collector struct {
	mu         sync.Mutex
	sessionSeq int
	nodeSeq    int
	sessions   map[string]time.Time
	nodes      map[string]string
	uploads    int
}

func newCollector() *collector {
	return &collector{
		sessions: make(map[string]time.Time),
		nodes:    make(map[string]string),
	}
}

func (c *collector) startSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c.mu.Lock()
	c.sessionSeq++
	id := fmt.Sprintf("session-%d", c.sessionSeq)
	c.sessions[id] = time.Now()
	c.mu.Unlock()

	log.Printf("🌙 Session started: %s", id)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (c *collector) sessionAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// /api/sessions/{id}/end or /api/sessions/{id}/calculate-score
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 4 {
		http.NotFound(w, r)
		return
	}
	id, action := parts[2], parts[3]

	c.mu.Lock()
	started, known := c.sessions[id]
	c.mu.Unlock()

	if !known {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}

	switch action {
	case "end":
		log.Printf("🌙 Session ended: %s (duration %s)", id, time.Since(started).Round(time.Second))
	case "calculate-score":
		log.Printf("📊 Score calculation requested: %s", id)
	default:
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (c *collector) upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "Missing audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	sessionID := r.FormValue("sessionId")

	c.mu.Lock()
	c.uploads++
	count := c.uploads
	// Assign a session when the client uploads without one, exercising the
	// adoption path
	if sessionID == "" {
		c.sessionSeq++
		sessionID = fmt.Sprintf("session-%d", c.sessionSeq)
		c.sessions[sessionID] = time.Now()
	}
	c.mu.Unlock()

	log.Printf("🎤 UPLOAD #%d: %s", count, header.Filename)
	log.Printf("    piId: %s", r.FormValue("piId"))
	log.Printf("    sessionId: %s", sessionID)
	log.Printf("    timestamp: %s", r.FormValue("timestamp"))
	log.Printf("    audioLevel: %s", r.FormValue("audioLevel"))
	log.Printf("    size: %d bytes", len(data))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"sessionId": sessionID})
}

func (c *collector) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (c *collector) registerNode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		Name     string `json:"name"`
		Location string `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid registration payload", http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	c.nodeSeq++
	id := fmt.Sprintf("node-%d", c.nodeSeq)
	c.nodes[id] = payload.Name
	c.mu.Unlock()

	log.Printf("📟 Node registered: %s (%s @ %s)", id, payload.Name, payload.Location)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (c *collector) nodeAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// /api/nodes/{id}/heartbeat or /api/nodes/{id}/audio-level
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 4 {
		http.NotFound(w, r)
		return
	}
	id, action := parts[2], parts[3]

	c.mu.Lock()
	_, known := c.nodes[id]
	c.mu.Unlock()

	if !known {
		http.Error(w, "Unknown node", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	switch action {
	case "heartbeat":
		log.Printf("💓 Heartbeat from %s", id)
		json.NewEncoder(w).Encode(map[string]bool{"muted": false})
	case "audio-level":
		var payload struct {
			Level float64 `json:"level"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		log.Printf("🔊 Level from %s: %.2f", id, payload.Level)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	default:
		http.NotFound(w, r)
	}
}

func main() {
	c := newCollector()

	http.HandleFunc("/api/sessions/start", c.startSession)
	http.HandleFunc("/api/sessions/", c.sessionAction)
	http.HandleFunc("/api/audio/upload", c.upload)
	http.HandleFunc("/api/health", c.health)
	http.HandleFunc("/api/nodes/register", c.registerNode)
	http.HandleFunc("/api/nodes/", c.nodeAction)

	port := ":3001"
	log.Printf("🚀 Test Collector Server starting on port %s", port)
	log.Printf("📡 Point the agent at: http://localhost%s", port)

	if err := http.ListenAndServe(port, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
