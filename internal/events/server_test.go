package events

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

func TestSettingsFromEnvOverrides(t *testing.T) {
	t.Setenv("COUNCIL_EVENTS_PORT", "9001")
	t.Setenv("COUNCIL_EVENTS_HOST", "0.0.0.0")
	t.Setenv("COUNCIL_EVENTS_ENABLED", "true")
	settings := SettingsFromEnv(Settings{})
	if settings.Port != 9001 {
		t.Fatalf("expected port 9001, got %d", settings.Port)
	}
	if settings.Host != "0.0.0.0" {
		t.Fatalf("expected host override, got %s", settings.Host)
	}
	if !settings.Enabled {
		t.Fatalf("expected enabled=true from env override")
	}
	if settings.ReadTimeout != DefaultReadTimeout {
		t.Fatalf("expected default read timeout, got %s", settings.ReadTimeout)
	}
}

func TestParseAddress(t *testing.T) {
	s, err := ParseAddress(":0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Host != DefaultHost || s.Port != 0 || !s.Enabled {
		t.Fatalf("unexpected settings %+v", s)
	}
	if _, err := ParseAddress("localhost"); err == nil {
		t.Fatalf("expected error without port")
	}
	if _, err := ParseAddress("localhost:99999"); err == nil {
		t.Fatalf("expected error for out of range port")
	}
}

func startTestServer(t *testing.T, router *Router) *Server {
	t.Helper()
	settings := Settings{Enabled: true, Host: "127.0.0.1", Port: 0, ReadTimeout: time.Second, IdleTimeout: time.Second}
	srv := NewServer(settings, router)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func TestServerHealth(t *testing.T) {
	srv := startTestServer(t, NewRouter())
	resp, err := http.Get(srv.BaseURL() + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 health, got %d", resp.StatusCode)
	}
	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != string(StatusReady) {
		t.Fatalf("unexpected status %q", body.Status)
	}

	post, err := http.Post(srv.BaseURL()+"/health", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", post.StatusCode)
	}
}

func TestServerStreamsRunUntilFinished(t *testing.T) {
	router := NewRouter()
	// published before the client connects; replayed from the backlog
	router.Publish(Event{RunID: "run-1", Type: RunStarted, Running: 2})
	srv := startTestServer(t, router)

	resp, err := http.Get(srv.BaseURL() + "/events?run=run-1")
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("unexpected content type %q", ct)
	}

	router.Publish(Event{RunID: "run-2", Type: MemberExited, Member: 9})
	router.Publish(Event{RunID: "run-1", Type: MemberExited, Member: 1, State: "completed"})
	router.Publish(Event{RunID: "run-1", Type: RunFinished, Completed: 2})

	var got []Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("decode line %q: %v", scanner.Text(), err)
		}
		got = append(got, ev)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(got), got)
	}
	if got[0].Type != RunStarted || got[1].Member != 1 || got[2].Type != RunFinished {
		t.Fatalf("unexpected stream %+v", got)
	}
}

func TestServerDisabled(t *testing.T) {
	srv := NewServer(Settings{}, NewRouter())
	if err := srv.Start(context.Background()); err != ErrServerDisabled {
		t.Fatalf("expected ErrServerDisabled, got %v", err)
	}
}
