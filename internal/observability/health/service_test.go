package health

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "countdownbot/pkg/logx"
)

func TestHandler(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop(), func() any { return map[string]int{"recipients": 3} })
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	cases := []struct {
		path     string
		code     int
		contains string
	}{
		{"/", http.StatusOK, banner},
		{"/healthz", http.StatusOK, `"recipients":3`},
		{"/nope", http.StatusNotFound, ""},
	}
	for _, tc := range cases {
		resp, err := http.Get(srv.URL + tc.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tc.path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != tc.code {
			t.Fatalf("GET %s: code=%d want %d", tc.path, resp.StatusCode, tc.code)
		}
		if !strings.Contains(string(body), tc.contains) {
			t.Fatalf("GET %s: body %q lacks %q", tc.path, body, tc.contains)
		}
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	s := New(Config{Addr: "127.0.0.1:0"}, logx.Nop(), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addr := s.Addr()
	if addr == "" || s.Supervisor() == nil {
		t.Fatalf("server not running")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if body["status"] != "ok" {
		t.Fatalf("body=%v", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)
	if s.Supervisor() != nil || s.Addr() != "" {
		t.Fatalf("server still registered after Stop")
	}
}

func TestDisabledIsNoop(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop(), nil)
	if s.Enabled() {
		t.Fatal("empty addr should disable")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Supervisor() != nil {
		t.Fatal("disabled server started")
	}
	s.Stop(context.Background())
}
