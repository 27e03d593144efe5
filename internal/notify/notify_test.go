package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeSender struct {
	name  string
	err   error
	mu    sync.Mutex
	calls []string
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, title)
	return f.err
}

func resolvedEvent() domain.Event {
	return domain.Event{
		ID:       "e1",
		MarketID: "eth-above-5000",
		Kind:     domain.EventHasOccurred,
		Outcome:  &domain.Outcome{Occurred: true, Price: 6000},
		At:       time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC),
	}
}

func TestNotifierFiltersKinds(t *testing.T) {
	s := &fakeSender{name: "a"}
	n := NewNotifier([]Sender{s}, []string{"event_has_occurred", " payout "}, discard())

	require.NoError(t, n.Emit(context.Background(), resolvedEvent()))
	require.NoError(t, n.Emit(context.Background(), domain.Event{Kind: domain.EventCommit}))
	assert.Equal(t, []string{"Market resolved"}, s.calls)

	assert.True(t, n.Wants(domain.EventPayout))
	assert.False(t, n.Wants(domain.EventReveal))
	assert.True(t, NewNotifier(nil, nil, discard()).Wants(domain.EventReveal))
}

func TestNotifierContinuesAfterSenderFailure(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("down")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Len(t, good.calls, 1)
}

func TestFormatEvent(t *testing.T) {
	title, msg := FormatEvent(resolvedEvent())
	assert.Equal(t, "Market resolved", title)
	assert.Contains(t, msg, "occurred: true")
	assert.Contains(t, msg, "price: 6000")

	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	title, msg = FormatEvent(domain.Event{
		Kind:    domain.EventPayout,
		Address: &addr,
		Amount:  uint256.NewInt(1501),
	})
	assert.Equal(t, "Payout sent", title)
	assert.Contains(t, msg, addr.Hex())
	assert.Contains(t, msg, "amount: 1501")
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), "Title", "body"))
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nbody", got["text"])
}

func TestDiscordSenderStatus(t *testing.T) {
	status := http.StatusNoContent
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(status)
		_, _ = w.Write([]byte("nope"))
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), "Payout sent", "1500 to 0xabc"))
	assert.Equal(t, "secretmarket", got.Username)
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Payout sent", got.Embeds[0].Title)
	assert.Equal(t, "1500 to 0xabc", got.Embeds[0].Description)

	status = http.StatusTooManyRequests
	err := s.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

type fakeChannel struct {
	published []amqp.Publishing
	keys      []string
	err       error
	closed    bool
}

func (c *fakeChannel) Publish(_, key string, _, _ bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error { c.closed = true; return nil }

func TestAMQPPublisherRoutesByKind(t *testing.T) {
	ch := &fakeChannel{}
	p := newAMQPPublisher("ex", func() (amqpChannel, func() error, error) {
		return ch, func() error { return nil }, nil
	}, discard())

	require.NoError(t, p.Emit(context.Background(), resolvedEvent()))
	require.Len(t, ch.published, 1)
	assert.Equal(t, []string{"market.event_has_occurred"}, ch.keys)
	assert.Equal(t, "e1", ch.published[0].MessageId)
	assert.Equal(t, amqp.Persistent, ch.published[0].DeliveryMode)

	var evt domain.Event
	require.NoError(t, json.Unmarshal(ch.published[0].Body, &evt))
	assert.Equal(t, domain.EventHasOccurred, evt.Kind)
}

func TestAMQPPublisherRedialsAfterClose(t *testing.T) {
	first := &fakeChannel{err: amqp.ErrClosed}
	second := &fakeChannel{}
	dials := 0
	p := newAMQPPublisher("ex", func() (amqpChannel, func() error, error) {
		dials++
		if dials == 1 {
			return first, func() error { return nil }, nil
		}
		return second, func() error { return nil }, nil
	}, discard())

	err := p.Emit(context.Background(), resolvedEvent())
	require.ErrorIs(t, err, amqp.ErrClosed)
	assert.True(t, first.closed)

	require.NoError(t, p.Emit(context.Background(), resolvedEvent()))
	assert.Equal(t, 2, dials)
	assert.Len(t, second.published, 1)
	require.NoError(t, p.Close())
}
