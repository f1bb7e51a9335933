package matrix

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const (
	DeviceDisplayName = "rss bot"
	DisplayName       = "RSS bot"

	roomNameCacheSize = 256
	roomNameCacheTTL  = time.Minute
)

type Credentials struct {
	Username string
	Password string
}

// Client is a logged in bot account on a homeserver
type Client struct {
	mautrix *mautrix.Client
	names   *expirable.LRU[id.RoomID, string]
}

// ClientFromCredentials logs in with a password and returns the session
func ClientFromCredentials(ctx context.Context, homeserver string, creds *Credentials) (*Client, error) {
	client, err := mautrix.NewClient(homeserver, "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	_, err = client.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: creds.Username,
		},
		Password:                 creds.Password,
		InitialDeviceDisplayName: DeviceDisplayName,
		StoreCredentials:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to log in as %s: %w", creds.Username, err)
	}

	log.WithFields(log.Fields{
		"user":   client.UserID,
		"device": client.DeviceID,
	}).Info("Logged in")

	return &Client{
		mautrix: client,
		names:   expirable.NewLRU[id.RoomID, string](roomNameCacheSize, nil, roomNameCacheTTL),
	}, nil
}

// UserID returns the bot's own user ID
func (c *Client) UserID() string {
	return c.mautrix.UserID.String()
}

func (c *Client) SetDisplayName(ctx context.Context, name string) error {
	if err := c.mautrix.SetDisplayName(ctx, name); err != nil {
		return fmt.Errorf("failed to set display name: %w", err)
	}
	return nil
}

func (c *Client) SendText(ctx context.Context, roomID, text string) error {
	if _, err := c.mautrix.SendText(ctx, id.RoomID(roomID), text); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", roomID, err)
	}
	return nil
}

func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	if _, err := c.mautrix.JoinRoomByID(ctx, id.RoomID(roomID)); err != nil {
		return fmt.Errorf("failed to join %s: %w", roomID, err)
	}
	return nil
}

// RoomName returns the display name of a room, or an empty string if it has
// none. Names are cached for a minute.
func (c *Client) RoomName(ctx context.Context, roomID string) (string, error) {
	room := id.RoomID(roomID)
	if name, ok := c.names.Get(room); ok {
		return name, nil
	}

	var content event.RoomNameEventContent
	err := c.mautrix.StateEvent(ctx, room, event.StateRoomName, "", &content)
	if err != nil && !errors.Is(err, mautrix.MNotFound) {
		return "", fmt.Errorf("failed to get name of %s: %w", roomID, err)
	}

	c.names.Add(room, content.Name)
	return content.Name, nil
}

// ForgetRoomName drops the cached name of a room
func (c *Client) ForgetRoomName(roomID string) {
	c.names.Remove(id.RoomID(roomID))
}
