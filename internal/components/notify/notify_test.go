package notify_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/FlowBondTech/flowb-sub000/internal/components/notify"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/config"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/http/client"
)

func testClient() *client.Client {
	return client.New(&config.OutboundHTTPConfig{
		SSRFMode:         "off",
		TimeoutMS:        2000,
		ConnectTimeoutMS: 1000,
		MaxRedirects:     1,
		MaxResponseBytes: 1 << 20,
	})
}

func TestWebhookDispatcher_Delivers(t *testing.T) {
	var (
		mu  sync.Mutex
		got []notify.Message
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m notify.Message
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := notify.NewWebhookDispatcher(testClient(), srv.URL, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	d.Notify(ctx, notify.KindSponsorshipVerified, "telegram_1", map[string]any{"amount": "10"})
	// Cancelling the caller's context must not abort delivery.
	cancel()
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if got[0].Kind != notify.KindSponsorshipVerified || got[0].Subject != "telegram_1" || got[0].Payload["amount"] != "10" {
		t.Errorf("delivered %+v", got[0])
	}
}

func TestWebhookDispatcher_FailureIsLoggedNotReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	d := notify.NewWebhookDispatcher(testClient(), srv.URL, 0, logger)
	d.Notify(context.Background(), notify.KindSponsorshipRejected, "app_ops", nil)
	d.Close()

	if !strings.Contains(buf.String(), "webhook delivery failed") {
		t.Errorf("expected failure log, got %q", buf.String())
	}
}

type recorder struct{ kinds []notify.Kind }

func (r *recorder) Notify(_ context.Context, kind notify.Kind, _ string, _ map[string]any) {
	r.kinds = append(r.kinds, kind)
}

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	var buf bytes.Buffer
	m := notify.Multi{a, b, notify.NewLogDispatcher(slog.New(slog.NewJSONHandler(&buf, nil)))}
	m.Notify(context.Background(), notify.KindCheckin, "telegram_1", map[string]any{"location_id": "loc-1"})

	if len(a.kinds) != 1 || len(b.kinds) != 1 {
		t.Errorf("fan-out failed: a=%v b=%v", a.kinds, b.kinds)
	}
	if !strings.Contains(buf.String(), `"kind":"checkin"`) {
		t.Errorf("log dispatcher output = %q", buf.String())
	}
}
