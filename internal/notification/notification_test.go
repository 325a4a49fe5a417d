package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-signalsync/internal/model"
)

func closedEvent() model.SignalEvent {
	ev := model.SignalEvent{
		Instrument: "BTC",
		Label:      "Bitcoin",
		Interval:   model.Interval1m,
		BuyTime:    time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
		BuyPrice:   decimal.NewFromInt(95),
		TakeProfit: decimal.RequireFromString("104.5"),
		StopLoss:   decimal.RequireFromString("90.25"),
	}
	ev.Close(decimal.NewFromInt(110), ev.BuyTime.Add(2*time.Minute), model.ExitSignal)
	return ev
}

func TestAlerts(t *testing.T) {
	ev := closedEvent()

	a := ClosedAlert(ev)
	assert.Equal(t, AlertInfo, a.Level)
	assert.Equal(t, "SELL Bitcoin (exit_signal)", a.Title)
	assert.Contains(t, a.Message, "15.79%")

	o := OpenedAlert(ev)
	assert.Contains(t, o.Message, "TP 104.50")

	w := AbandonedAlert(ev)
	assert.Equal(t, AlertWarning, w.Level)
	assert.Equal(t, "BTC", w.Instrument)
}

func TestWebhookNotifier_Send(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s3cret", r.Header.Get("X-Signalsync-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "s3cret")
	require.NoError(t, n.Send(context.Background(), ClosedAlert(closedEvent())))
	assert.Equal(t, "BTC", got.Instrument)
	require.NotNil(t, got.Event)
	assert.True(t, got.Event.ClosePrice.Equal(decimal.NewFromInt(110)))
	assert.NotEmpty(t, got.TS)
}

func TestWebhookNotifier_Retries(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{"server error retried", http.StatusBadGateway, 3},
		{"client error not retried", http.StatusBadRequest, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			err := NewWebhookNotifier(srv.URL, "").Send(context.Background(), Alert{Title: "x"})
			assert.Error(t, err)
			assert.Equal(t, tc.wantCalls, calls.Load())
		})
	}
}

func TestTelegramNotifier_Send(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.baseURL = srv.URL
	require.NoError(t, n.Send(context.Background(), ClosedAlert(closedEvent())))
	assert.Equal(t, "42", body["chat_id"])
	assert.Contains(t, body["text"], "exit 110.00")
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `SELL BTC \(exit\_signal\) 1\.5%`, escapeMarkdown("SELL BTC (exit_signal) 1.5%"))
}

type failing struct{ err error }

func (f failing) Send(context.Context, Alert) error { return f.err }

func TestMulti_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	err := Multi{NewLogNotifier(), failing{boom}}.Send(context.Background(), Alert{Title: "t"})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, Multi{NewLogNotifier()}.Send(context.Background(), Alert{}))
}
