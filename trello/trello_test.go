package trello

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(Config{APIKey: "k", Token: "tok", BaseURL: srv.URL}, nil)
	c.guard.BaseBackoff = time.Millisecond
	return c
}

func checkAuth(t *testing.T, r *http.Request) {
	t.Helper()
	if r.URL.Query().Get("key") != "k" || r.URL.Query().Get("token") != "tok" {
		t.Errorf("missing credentials in %s", r.URL)
	}
}

func TestCardDescription(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		checkAuth(t, r)
		if r.Method != http.MethodGet || r.URL.Path != "/cards/AbC123" || r.URL.Query().Get("fields") != "desc" {
			t.Errorf("unexpected %s %s", r.Method, r.URL)
		}
		w.Write([]byte(`{"id":"x","desc":"登錄證字號：12345678"}`))
	})
	desc, err := c.CardDescription(context.Background(), "AbC123")
	if err != nil {
		t.Fatal(err)
	}
	if desc != "登錄證字號：12345678" {
		t.Fatalf("desc = %q", desc)
	}
}

func TestComment(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		checkAuth(t, r)
		if r.Method != http.MethodPost || r.URL.Path != "/cards/card1/actions/comments" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("text"); got != "查詢完成：x\n第二行" {
			t.Errorf("text = %q", got)
		}
		w.Write([]byte(`{}`))
	})
	if err := c.Comment(context.Background(), "card1", "查詢完成：x\n第二行"); err != nil {
		t.Fatal(err)
	}
}

func TestAttach(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		checkAuth(t, r)
		if r.URL.Path != "/cards/card1/attachments" {
			t.Errorf("path = %s", r.URL.Path)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		if string(data) != "PNGDATA" || hdr.Filename != "0012345678_查無資料.png" {
			t.Errorf("file %q %q", hdr.Filename, data)
		}
		if hdr.Header.Get("Content-Type") != "image/png" || r.FormValue("mimeType") != "image/png" {
			t.Errorf("mime type lost")
		}
		w.Write([]byte(`{"id":"att"}`))
	})
	if err := c.Attach(context.Background(), "card1", "0012345678_查無資料.png", "image/png", []byte("PNGDATA")); err != nil {
		t.Fatal(err)
	}
}

func TestWebhooks(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/webhooks/":
			q := r.URL.Query()
			if q.Get("callbackURL") != "https://svc/webhook/trello" || q.Get("idModel") != "board1" || q.Get("active") != "true" {
				t.Errorf("query = %v", q)
			}
			w.Write([]byte(`{"id":"wh1","idModel":"board1","callbackURL":"https://svc/webhook/trello","active":true}`))
		case r.Method == http.MethodGet && r.URL.Path == "/tokens/tok/webhooks":
			w.Write([]byte(`[{"id":"wh1","active":true}]`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	})
	wh, err := c.CreateWebhook(context.Background(), "https://svc/webhook/trello", "board1", "agent check")
	if err != nil || wh.ID != "wh1" || !wh.Active {
		t.Fatalf("create: %+v %v", wh, err)
	}
	list, err := c.ListWebhooks(context.Background())
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %+v %v", list, err)
	}
}

func TestRetryAndPermanentErrors(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if strings.HasSuffix(r.URL.Path, "/missing") {
			http.Error(w, "card not found", http.StatusNotFound)
			return
		}
		if n == 1 {
			http.Error(w, "later", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"desc":"ok"}`))
	})

	if d, err := c.CardDescription(context.Background(), "flaky"); err != nil || d != "ok" {
		t.Fatalf("flaky: %q %v", d, err)
	}
	calls.Store(0)
	_, err := c.CardDescription(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("err = %v, want 404 APIError", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("404 retried %d times", calls.Load())
	}
}

func TestNotConfigured(t *testing.T) {
	c := NewClient(Config{}, nil)
	if c.Configured() {
		t.Fatal("empty config reported configured")
	}
	if err := c.Comment(context.Background(), "x", "y"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v", err)
	}
}

func TestCardURLs(t *testing.T) {
	id, ok := CardIDFromURL("https://trello.com/c/Ab12Cd/42-年繳方案申請")
	if !ok || id != "Ab12Cd" {
		t.Fatalf("id = %q %v", id, ok)
	}
	if _, ok := CardIDFromURL("https://trello.com/b/board"); ok {
		t.Fatal("board URL accepted")
	}
	if !IsCardURL("HTTPS://TRELLO.COM/c/x") || IsCardURL("12345678") {
		t.Fatal("IsCardURL")
	}
	if CardURL("Ab12Cd") != "https://trello.com/c/Ab12Cd" {
		t.Fatal("CardURL")
	}
}

func TestEventAndSignature(t *testing.T) {
	body := []byte(`{"action":{"type":"createCard","data":{"card":{"id":"c1","name":"王小明 年繳方案申請","shortLink":"Ab12"}}}}`)
	e, err := ParseEvent(body)
	if err != nil {
		t.Fatal(err)
	}
	card, ok := e.CreatedCard()
	if !ok || card.ShortLink != "Ab12" || card.ID != "c1" {
		t.Fatalf("card = %+v %v", card, ok)
	}

	other, _ := ParseEvent([]byte(`{"action":{"type":"updateCard","data":{"card":{"id":"c1"}}}}`))
	if _, ok := other.CreatedCard(); ok {
		t.Fatal("updateCard treated as creation")
	}
	if _, err := ParseEvent([]byte("not json")); err == nil {
		t.Fatal("expected decode error")
	}

	sig := Sign("secret", "https://svc/webhook/trello", body)
	if !VerifySignature("secret", "https://svc/webhook/trello", body, sig) {
		t.Fatal("valid signature rejected")
	}
	if VerifySignature("secret", "https://other/", body, sig) || VerifySignature("secret", "https://svc/webhook/trello", body, "") {
		t.Fatal("bad signature accepted")
	}
}
