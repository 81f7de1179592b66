package browser

import (
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.defaults()
	if c.ElementTimeout != 5*time.Second || c.NavigateTimeout != 30*time.Second {
		t.Fatalf("timeouts = %v / %v", c.ElementTimeout, c.NavigateTimeout)
	}
	if c.ViewportWidth != 1280 || c.Logger == nil {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestCloseUnopenedSession(t *testing.T) {
	s := &Session{}
	if err := s.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestDialogMessageWithoutEvent(t *testing.T) {
	d := &Dialog{cancel: func() {}, ch: make(chan string, 1)}
	if _, ok := d.Message(); ok {
		t.Fatal("no dialog expected")
	}
	d.ch <- "驗證碼錯誤"
	d.Disarm()
	msg, ok := d.Message()
	if !ok || msg != "驗證碼錯誤" {
		t.Fatalf("got %q, %v", msg, ok)
	}
	if again, _ := d.Message(); again != msg {
		t.Fatalf("message not kept: %q", again)
	}
}
