package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	logx "pullover/pkg/logx"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		Endpoint: srv.URL,
		Secret:   "s3cret",
		DeviceID: "dev1",
	}, logx.Nop())
}

func TestFetchPending(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("secret") != "s3cret" || q.Get("device_id") != "dev1" {
			t.Errorf("credentials missing from query: %v", q)
		}
		w.Write([]byte(`{"status":1,"messages":[
			{"id":5,"title":"Alert","message":"disk full","priority":1,"icon":"app-1"},
			{"id":7,"app":"Backup","message":"done"}
		]}`))
	})

	msgs, err := c.FetchPending(context.Background())
	if err != nil {
		t.Fatalf("FetchPending: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].ID != 5 || msgs[0].Text != "disk full" || msgs[0].Priority != 1 {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
	if got := msgs[1].DisplayTitle(); got != "Backup" {
		t.Fatalf("DisplayTitle = %q, want app name fallback", got)
	}
}

func TestFetchPendingServiceError(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Service failures arrive as JSON status 0, even on HTTP 4xx.
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":0,"errors":["device disabled"]}`))
	})

	_, err := c.FetchPending(context.Background())
	var se *ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("want ServiceError, got %T: %v", err, err)
	}
	if len(se.Errs) != 1 || se.Errs[0] != "device disabled" {
		t.Fatalf("Errs = %v", se.Errs)
	}
}

func TestFetchPendingTransportError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections from now on
	c := NewClient(Config{Endpoint: srv.URL}, logx.Nop())

	_, err := c.FetchPending(context.Background())
	if !IsTransport(err) {
		t.Fatalf("want TransportError, got %T: %v", err, err)
	}
}

func TestFetchPendingMalformedBody(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>gateway error</html>`))
	})

	_, err := c.FetchPending(context.Background())
	if !IsTransport(err) {
		t.Fatalf("want TransportError for undecodable body, got %T: %v", err, err)
	}
}

func TestAdvanceWatermark(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Path != "/devices/dev1/update_highest_message.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("secret") != "s3cret" || r.PostForm.Get("message") != "42" {
			t.Errorf("form = %v", r.PostForm)
		}
		w.Write([]byte(`{"status":1}`))
	})

	if err := c.AdvanceWatermark(context.Background(), 42); err != nil {
		t.Fatalf("AdvanceWatermark: %v", err)
	}
}

func TestAdvanceWatermarkRejected(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":0,"errors":["invalid message id"]}`))
	})

	err := c.AdvanceWatermark(context.Background(), 42)
	if !IsService(err) {
		t.Fatalf("want ServiceError, got %T: %v", err, err)
	}
}

func TestFetchIcon(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/icons/app-9.png" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte("raw-png"))
	})

	b, err := c.FetchIcon(context.Background(), "app-9")
	if err != nil {
		t.Fatalf("FetchIcon: %v", err)
	}
	if string(b) != "raw-png" {
		t.Fatalf("body = %q", b)
	}
}

func TestFetchIconHTTPFailure(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := c.FetchIcon(context.Background(), "missing")
	if !IsService(err) {
		t.Fatalf("want ServiceError for HTTP 404, got %T: %v", err, err)
	}
}

func TestLoginAndRegisterDevice(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		switch r.URL.Path {
		case "/users/login.json":
			if r.PostForm.Get("email") != "me@example.com" || r.PostForm.Get("password") != "pw" {
				t.Errorf("login form = %v", r.PostForm)
			}
			w.Write([]byte(`{"status":1,"secret":"new-secret"}`))
		case "/devices.json":
			if r.PostForm.Get("secret") != "new-secret" || r.PostForm.Get("os") != "O" {
				t.Errorf("register form = %v", r.PostForm)
			}
			w.Write([]byte(`{"status":1,"id":"new-device"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	secret, err := c.Login(context.Background(), "me@example.com", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if secret != "new-secret" {
		t.Fatalf("secret = %q", secret)
	}

	id, err := c.RegisterDevice(context.Background(), secret, "laptop")
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	if id != "new-device" {
		t.Fatalf("device id = %q", id)
	}
}
