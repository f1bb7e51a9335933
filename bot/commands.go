// Package bot turns chat messages into subscription changes and feed items.
package bot

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"rssbot/models"
	"rssbot/store"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// CommandPrefix marks a message as a command for the bot
const CommandPrefix = "!rss"

const (
	usageReply           = "Accepted commands are: subscribe, unsubscribe, list, help"
	missingNameReply     = "Please set a room name first"
	noSubscriptionsReply = "Not subscribed to any rooms"
	lookupFailedReply    = "Couldn't look up the room name, please try again"
)

// RoomNamer resolves the display name of a room. An empty name means the room
// has none.
type RoomNamer interface {
	RoomName(ctx context.Context, roomID string) (string, error)
}

// IsCommand reports whether body should be handled as a command
func IsCommand(body string) bool {
	return strings.HasPrefix(body, CommandPrefix)
}

// FeedName derives a feed name from a room display name by dropping its
// leading sigil. Returns false when nothing is left.
func FeedName(displayName string) (string, bool) {
	_, size := utf8.DecodeRuneInString(displayName)
	name := displayName[size:]
	return name, name != ""
}

// Commands handles the !rss command family
type Commands struct {
	store *store.Store
	rooms RoomNamer
}

func NewCommands(store *store.Store, rooms RoomNamer) *Commands {
	return &Commands{
		store: store,
		rooms: rooms,
	}
}

// Handle runs the command in msg and returns the reply for the room. A reply
// is returned alongside any error so the sender always hears back.
func (c *Commands) Handle(ctx context.Context, msg models.Message) (string, error) {
	args := strings.Split(msg.Body, " ")
	if len(args) != 2 {
		commandsTotal.WithLabelValues("invalid").Inc()
		return usageReply, nil
	}

	displayName, err := c.rooms.RoomName(ctx, msg.RoomID)
	if err != nil {
		commandsTotal.WithLabelValues("lookup_failed").Inc()
		return lookupFailedReply, fmt.Errorf("failed to get name of room %s: %w", msg.RoomID, err)
	}

	name, ok := FeedName(displayName)
	if !ok {
		commandsTotal.WithLabelValues("unnamed").Inc()
		return missingNameReply, nil
	}

	command := args[1]
	switch command {
	case "subscribe":
		commandsTotal.WithLabelValues(command).Inc()
		return c.subscribe(msg.RoomID, name), nil
	case "unsubscribe":
		commandsTotal.WithLabelValues(command).Inc()
		return c.unsubscribe(msg.RoomID, name), nil
	case "list":
		commandsTotal.WithLabelValues(command).Inc()
		return c.list(), nil
	default:
		commandsTotal.WithLabelValues("help").Inc()
		return usageReply, nil
	}
}

func (c *Commands) subscribe(roomID, name string) string {
	if c.store.Subscribe(roomID, name) == store.AlreadyExists {
		return fmt.Sprintf("Already subscribed to room \"%s\"", name)
	}
	return fmt.Sprintf("Successfully subscribed to room \"%s\"", name)
}

func (c *Commands) unsubscribe(roomID, name string) string {
	result, feedName := c.store.Unsubscribe(roomID)
	if result == store.NotSubscribed {
		return fmt.Sprintf("Already unsubscribed from room \"%s\"", name)
	}

	if feedName != name {
		log.WithFields(log.Fields{
			"room":    roomID,
			"feed":    feedName,
			"current": name,
		}).Info("Unsubscribed room that was renamed since subscribing")
	}
	return fmt.Sprintf("Successfully unsubscribed from room \"%s\"", feedName)
}

func (c *Commands) list() string {
	subscriptions := c.store.ListSubscriptions()
	if len(subscriptions) == 0 {
		return noSubscriptionsReply
	}

	lines := lo.Map(subscriptions, func(s models.Subscription, _ int) string {
		return fmt.Sprintf("- %s (%s)", s.FeedName, s.RoomID)
	})
	return "Subscribed to:\n" + strings.Join(lines, "\n")
}
