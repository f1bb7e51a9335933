package matrix_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"rssbot/matrix"
	"rssbot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const botUser = "@rssbot:example.org"

// homeserver answers the few client API calls the bot makes
type homeserver struct {
	mu          sync.Mutex
	names       map[string]string
	nameLookups int
	sent        []string
	joined      []string
	displayName string
	login       map[string]interface{}
}

func (h *homeserver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.HasSuffix(path, "/login"):
		_ = json.NewDecoder(r.Body).Decode(&h.login)
		if h.login["password"] != "hunter2" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errcode":"M_FORBIDDEN","error":"Invalid password"}`))
			return
		}
		_, _ = w.Write([]byte(`{"user_id":"` + botUser + `","access_token":"secret","device_id":"DEVICE"}`))

	case strings.Contains(path, "/state/m.room.name"):
		h.nameLookups++
		for roomID, name := range h.names {
			if strings.Contains(path, "/rooms/"+roomID+"/") {
				_ = json.NewEncoder(w).Encode(map[string]string{"name": name})
				return
			}
		}
		if strings.Contains(path, "forbidden") {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errcode":"M_FORBIDDEN","error":"Not in room"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errcode":"M_NOT_FOUND","error":"Event not found"}`))

	case strings.Contains(path, "/send/m.room.message/"):
		var content map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&content)
		h.sent = append(h.sent, content["body"].(string))
		_, _ = w.Write([]byte(`{"event_id":"$event"}`))

	case strings.HasSuffix(path, "/join"):
		h.joined = append(h.joined, path)
		_, _ = w.Write([]byte(`{"room_id":"!joined:example.org"}`))

	case strings.HasSuffix(path, "/displayname"):
		var content map[string]string
		_ = json.NewDecoder(r.Body).Decode(&content)
		h.displayName = content["displayname"]
		_, _ = w.Write([]byte(`{}`))

	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errcode":"M_UNRECOGNIZED","error":"Unrecognized request"}`))
	}
}

func newClient(t *testing.T) (*matrix.Client, *homeserver) {
	t.Helper()
	hs := &homeserver{names: map[string]string{"!news:example.org": "#news"}}
	srv := httptest.NewServer(hs)
	t.Cleanup(srv.Close)

	client, err := matrix.ClientFromCredentials(context.Background(), srv.URL, &matrix.Credentials{
		Username: "rssbot",
		Password: "hunter2",
	})
	require.NoError(t, err)
	return client, hs
}

func TestClientFromCredentials(t *testing.T) {
	client, hs := newClient(t)

	assert.Equal(t, botUser, client.UserID())
	assert.Equal(t, "rss bot", hs.login["initial_device_display_name"])
	assert.Equal(t, "m.login.password", hs.login["type"])
}

func TestClientFromCredentialsRejected(t *testing.T) {
	srv := httptest.NewServer(&homeserver{})
	t.Cleanup(srv.Close)

	_, err := matrix.ClientFromCredentials(context.Background(), srv.URL, &matrix.Credentials{
		Username: "rssbot",
		Password: "wrong",
	})
	assert.ErrorIs(t, err, mautrix.MForbidden)
}

func TestClientActions(t *testing.T) {
	client, hs := newClient(t)
	ctx := context.Background()

	require.NoError(t, client.SetDisplayName(ctx, matrix.DisplayName))
	require.NoError(t, client.SendText(ctx, "!news:example.org", "Subscribed to:"))
	require.NoError(t, client.JoinRoom(ctx, "!news:example.org"))

	assert.Equal(t, "RSS bot", hs.displayName)
	assert.Equal(t, []string{"Subscribed to:"}, hs.sent)
	assert.Len(t, hs.joined, 1)
}

func TestRoomName(t *testing.T) {
	client, hs := newClient(t)
	ctx := context.Background()

	name, err := client.RoomName(ctx, "!news:example.org")
	require.NoError(t, err)
	assert.Equal(t, "#news", name)

	// Served from the cache
	hs.mu.Lock()
	hs.names["!news:example.org"] = "#headlines"
	hs.mu.Unlock()
	name, err = client.RoomName(ctx, "!news:example.org")
	require.NoError(t, err)
	assert.Equal(t, "#news", name)
	assert.Equal(t, 1, hs.nameLookups)

	client.ForgetRoomName("!news:example.org")
	name, err = client.RoomName(ctx, "!news:example.org")
	require.NoError(t, err)
	assert.Equal(t, "#headlines", name)
	assert.Equal(t, 2, hs.nameLookups)
}

func TestRoomNameMissing(t *testing.T) {
	client, _ := newClient(t)

	name, err := client.RoomName(context.Background(), "!unnamed:example.org")
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestRoomNameError(t *testing.T) {
	client, _ := newClient(t)

	_, err := client.RoomName(context.Background(), "!forbidden:example.org")
	assert.ErrorIs(t, err, mautrix.MForbidden)
}

type recordingHandler struct {
	messages []models.Message
	joins    []string
}

func (r *recordingHandler) Submit(_ context.Context, msg models.Message) error {
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingHandler) Join(_ context.Context, roomID string) {
	r.joins = append(r.joins, roomID)
}

func newListener(t *testing.T) (*matrix.Listener, *recordingHandler, *homeserver, *matrix.Client) {
	client, hs := newClient(t)
	handler := &recordingHandler{}
	return matrix.NewListener(client, handler, handler), handler, hs, client
}

func messageEvent(msgType event.MessageType, body string, source event.Source) *event.Event {
	return &event.Event{
		Type:      event.EventMessage,
		RoomID:    id.RoomID("!news:example.org"),
		Sender:    id.UserID("@alice:example.org"),
		Timestamp: 1709285400000,
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: msgType,
			Body:    body,
		}},
		Mautrix: event.MautrixInfo{EventSource: source},
	}
}

func TestHandleMessage(t *testing.T) {
	listener, handler, _, _ := newListener(t)
	ctx := context.Background()
	joined := event.SourceJoin | event.SourceTimeline

	listener.HandleMessage(ctx, messageEvent(event.MsgText, "see https://example.com", joined))
	listener.HandleMessage(ctx, messageEvent(event.MsgNotice, "a notice", joined))
	listener.HandleMessage(ctx, messageEvent(event.MsgImage, "cat.png", joined))
	listener.HandleMessage(ctx, messageEvent(event.MsgText, "after leaving", event.SourceLeave|event.SourceTimeline))

	require.Len(t, handler.messages, 1)
	msg := handler.messages[0]
	assert.Equal(t, "!news:example.org", msg.RoomID)
	assert.Equal(t, "@alice:example.org", msg.Sender)
	assert.Equal(t, "see https://example.com", msg.Body)
	assert.Equal(t, int64(1709285400000), msg.ReceivedAt.UnixMilli())
}

func memberEvent(stateKey string, membership event.Membership) *event.Event {
	return &event.Event{
		Type:     event.StateMember,
		RoomID:   id.RoomID("!invite:example.org"),
		Sender:   id.UserID("@alice:example.org"),
		StateKey: &stateKey,
		Content:  event.Content{Parsed: &event.MemberEventContent{Membership: membership}},
	}
}

func TestHandleMember(t *testing.T) {
	listener, handler, _, _ := newListener(t)
	ctx := context.Background()

	listener.HandleMember(ctx, memberEvent("@bob:example.org", event.MembershipInvite))
	listener.HandleMember(ctx, memberEvent(botUser, event.MembershipJoin))
	listener.HandleMember(ctx, memberEvent(botUser, event.MembershipInvite))

	assert.Equal(t, []string{"!invite:example.org"}, handler.joins)
}

func TestHandleInitialSync(t *testing.T) {
	listener, handler, _, _ := newListener(t)
	ctx := context.Background()

	resp := &mautrix.RespSync{}
	resp.Rooms.Invite = map[id.RoomID]*mautrix.SyncInvitedRoom{
		"!pending:example.org": {},
	}

	assert.False(t, listener.HandleInitialSync(ctx, resp, ""))
	assert.Equal(t, []string{"!pending:example.org"}, handler.joins)

	// Later syncs are dispatched event by event
	assert.True(t, listener.HandleInitialSync(ctx, resp, "s1_2_3"))
	assert.Len(t, handler.joins, 1)
}

func TestHandleRoomName(t *testing.T) {
	listener, _, hs, client := newListener(t)
	ctx := context.Background()

	_, err := client.RoomName(ctx, "!news:example.org")
	require.NoError(t, err)

	listener.HandleRoomName(ctx, &event.Event{Type: event.StateRoomName, RoomID: id.RoomID("!news:example.org")})

	_, err = client.RoomName(ctx, "!news:example.org")
	require.NoError(t, err)
	assert.Equal(t, 2, hs.nameLookups)
}
