package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/jamsync/internal/auth"
	"github.com/DoyleJ11/jamsync/internal/catalog"
	"github.com/DoyleJ11/jamsync/internal/engine"
	"github.com/DoyleJ11/jamsync/internal/hub"
	"github.com/DoyleJ11/jamsync/internal/ws"
	"github.com/DoyleJ11/jamsync/pkg/types"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// helper: receive one message with a timeout so tests never hang
func next(t *testing.T, a *Adapter) Message {
	t.Helper()
	select {
	case m, ok := <-a.Messages():
		if !ok {
			t.Fatalf("messages closed unexpectedly")
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
		return nil
	}
}

func closed(t *testing.T, a *Adapter) {
	t.Helper()
	select {
	case m, ok := <-a.Messages():
		if ok {
			t.Fatalf("expected closed messages, got %#v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("messages were not closed")
	}
}

type authority struct {
	srv    *httptest.Server
	tokens *auth.Tokens
}

func newAuthority(t *testing.T) *authority {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := hub.NewHub(ctx, hub.Options{})
	tokens := auth.NewTokens("test-secret", time.Hour)
	srv := httptest.NewServer(ws.Handler(ws.Options{Hub: h, Auth: tokens}))
	t.Cleanup(srv.Close)
	return &authority{srv: srv, tokens: tokens}
}

func (au *authority) dial(t *testing.T, participant string, songs catalog.Lookup) *Adapter {
	t.Helper()
	tok, err := au.tokens.Sign(participant)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	a, err := Dial(ctx, Options{URL: wsURL(au.srv), Token: tok, Songs: songs})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestAdapter_JamRoundTrip(t *testing.T) {
	au := newAuthority(t)
	songs := catalog.Static{
		"A": {AdaptiveStreamURL: "http://cdn/a.m3u8", FallbackURL: "http://cdn/a.mp3", DurationHint: 200},
	}

	host := au.dial(t, "host", songs)
	require.NoError(t, host.StartJam("A"))

	created, ok := next(t, host).(SessionUpdated)
	require.True(t, ok)
	require.Equal(t, 0, created.Version)
	require.NoError(t, created.ResolveErr)
	require.Equal(t, "http://cdn/a.m3u8", created.Source.AdaptiveURL)
	require.False(t, created.Target(created.ReceivedAt).Playing)
	sessionID := created.Session.ID

	guest := au.dial(t, "guest", nil)
	require.NoError(t, guest.JoinJam(created.Session.JoinCode))
	for _, a := range []*Adapter{host, guest} {
		joined := next(t, a).(SessionUpdated)
		require.Equal(t, 1, joined.Version)
		require.Equal(t, []string{"host", "guest"}, joined.Session.Participants)
	}

	require.NoError(t, guest.Seek(sessionID, 30))
	denied, ok := next(t, guest).(ErrorReceived)
	require.True(t, ok)
	require.Equal(t, engine.CodeForbidden, denied.Code)

	require.NoError(t, guest.Leave(sessionID))
	closed(t, guest)
	require.ErrorIs(t, guest.Seek(sessionID, 1), ErrClosed)

	left := next(t, host).(SessionUpdated)
	require.Equal(t, 2, left.Version)
	require.Equal(t, []string{"host"}, left.Session.Participants)

	require.NoError(t, host.EndJam(sessionID))
	ended, ok := next(t, host).(SessionEnded)
	require.True(t, ok)
	require.Equal(t, sessionID, ended.SessionID)
	require.Equal(t, engine.ReasonEnded, ended.Reason)
	closed(t, host)
}

func TestAdapter_DropsStaleVersionsAndReportsDisconnect(t *testing.T) {
	updates := []types.ServerMessage{
		{Type: types.MsgSessionUpdated, Version: 2, Session: &types.Session{ID: "s1"}},
		{Type: types.MsgSessionUpdated, Version: 1, Session: &types.Session{ID: "s1"}},
		{Type: types.MsgSessionUpdated, Version: 2, Session: &types.Session{ID: "s1"}},
		{Type: types.MsgSessionUpdated, Version: 3, Session: &types.Session{ID: "s1"}},
		{Type: types.MsgSessionUpdated, Version: 0, Session: &types.Session{ID: "s2"}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		for _, m := range updates {
			payload, _ := json.Marshal(m)
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return
			}
		}
		conn.Close(websocket.StatusInternalError, "boom")
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	a, err := Dial(ctx, Options{URL: wsURL(srv)})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	var got []string
	for range 3 {
		u := next(t, a).(SessionUpdated)
		got = append(got, fmt.Sprintf("%s:%d", u.Session.ID, u.Version))
	}
	require.Equal(t, []string{"s1:2", "s1:3", "s2:0"}, got)

	gone, ok := next(t, a).(Disconnected)
	require.True(t, ok)
	require.ErrorContains(t, gone.Err, engine.CodeTransportError)
	closed(t, a)
}

func TestAdapter_DialRejected(t *testing.T) {
	au := newAuthority(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dial(ctx, Options{URL: wsURL(au.srv), Token: "forged"})
	require.Error(t, err)
}
