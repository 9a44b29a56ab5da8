package api

import (
	"bufio"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskhub/events"
)

func startStreamServer(t *testing.T, a Authenticator) (*httptest.Server, *events.Hub) {
	t.Helper()
	e := echo.New()
	logger := log.New()
	logger.SetOutput(io.Discard)
	hub := events.NewHub()
	Register(e, &stubTaskService{}, &stubAccounts{}, a, hub, logger, false)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, hub
}

func TestStreamDeliversBroadcasts(t *testing.T) {
	srv, hub := startStreamServer(t, &stubAuth{userID: "alice"})

	resp, err := http.Get(srv.URL + "/api/stream?token=x.y.z")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("wrong content type: %q", ct)
	}

	// the subscription races the handshake; publish until one lands
	deadline := time.Now().Add(5 * time.Second)
	for hub.Count("alice") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("session never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	hub.Broadcast("alice", []byte(`{"kind":"task-created"}`))

	scanner := bufio.NewScanner(resp.Body)
	frame := make(chan string, 1)
	go func() {
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data: ") {
				frame <- strings.TrimPrefix(line, "data: ")
				return
			}
		}
	}()
	select {
	case got := <-frame:
		if got != `{"kind":"task-created"}` {
			t.Fatalf("unexpected frame: %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no data frame arrived")
	}
}

func TestStreamRejectsUnauthenticated(t *testing.T) {
	srv, _ := startStreamServer(t, &stubAuth{err: errMissingAuthorization})

	resp, err := http.Get(srv.URL + "/api/stream")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestStreamUnregistersOnDisconnect(t *testing.T) {
	srv, hub := startStreamServer(t, &stubAuth{userID: "alice"})

	resp, err := http.Get(srv.URL + "/api/stream?token=x.y.z")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for hub.Count("alice") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("session never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp.Body.Close()
	deadline = time.Now().Add(5 * time.Second)
	for hub.Count("alice") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session not cleaned up after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
