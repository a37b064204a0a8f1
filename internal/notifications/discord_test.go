package notifications

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNotifyDeliversAfterCallerContextCanceled(t *testing.T) {
	received := make(chan discordMessage, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg discordMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		received <- msg
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL, log.New(io.Discard, "", 0))

	// A handler's request context is canceled when the response is written.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.NotifyNewUser(ctx, "new@example.com")

	select {
	case msg := <-received:
		if len(msg.Embeds) != 1 || !strings.Contains(msg.Embeds[0].Description, "new@example.com") {
			t.Errorf("unexpected payload: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered after caller context cancellation")
	}
}

func TestDisabledNotifierSkipsDelivery(t *testing.T) {
	d := NewDiscord("", log.New(io.Discard, "", 0))
	if d.Enabled() {
		t.Error("notifier with empty URL reports enabled")
	}
	// Must not panic or block.
	d.NotifyJobFailed(context.Background(), "job-1", "synthesis failed")
}
