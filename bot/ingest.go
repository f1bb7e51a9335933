package bot

import (
	"context"
	"fmt"

	"rssbot/extract"
	"rssbot/models"
	"rssbot/store"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// TitleFetcher looks up the title of the page behind a link
type TitleFetcher interface {
	Title(ctx context.Context, link string) (string, error)
}

// Ingestor turns plain messages in subscribed rooms into feed items
type Ingestor struct {
	store  *store.Store
	rooms  RoomNamer
	titles TitleFetcher
}

func NewIngestor(store *store.Store, rooms RoomNamer, titles TitleFetcher) *Ingestor {
	return &Ingestor{
		store:  store,
		rooms:  rooms,
		titles: titles,
	}
}

// Pending is a feed item waiting for its page title
type Pending struct {
	feed string
	item models.FeedItem
}

// Ingest stores msg in its room's feed if the room is subscribed and the
// message contains a link. Returns whether an item was stored.
func (i *Ingestor) Ingest(ctx context.Context, msg models.Message) (bool, error) {
	pending, err := i.Prepare(ctx, msg)
	if err != nil || pending == nil {
		return false, err
	}

	i.FetchTitle(ctx, pending)
	return i.Commit(pending), nil
}

// Prepare resolves the feed of msg and builds its item without a title.
// Returns nil when the message does not belong in any feed.
func (i *Ingestor) Prepare(ctx context.Context, msg models.Message) (*Pending, error) {
	displayName, err := i.rooms.RoomName(ctx, msg.RoomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get name of room %s: %w", msg.RoomID, err)
	}

	name, ok := FeedName(displayName)
	if !ok || !i.store.HasFeed(name) {
		messagesTotal.WithLabelValues("not_subscribed").Inc()
		return nil, nil
	}

	link, ok := extract.ExtractURL(msg.Body)
	if !ok {
		messagesTotal.WithLabelValues("no_link").Inc()
		return nil, nil
	}

	return &Pending{
		feed: name,
		item: models.FeedItem{
			ID:      uuid.New().String(),
			Sender:  msg.Sender,
			Content: msg.Body,
			Link:    link,
		},
	}, nil
}

// FetchTitle looks up the page title of the pending item. Failures leave the
// item without one. No store lock is held while the page is fetched.
func (i *Ingestor) FetchTitle(ctx context.Context, pending *Pending) {
	title, err := i.titles.Title(ctx, pending.item.Link)
	if err != nil {
		log.WithFields(log.Fields{
			"link":  pending.item.Link,
			"error": err,
		}).Debug("Storing item without a page title")
		return
	}
	pending.item.PageName = &title
}

// Commit appends the pending item to its feed. Returns whether it was stored.
func (i *Ingestor) Commit(pending *Pending) bool {
	item := pending.item
	if !i.store.AppendItem(pending.feed, item) {
		// The room was unsubscribed while the title was being fetched
		messagesTotal.WithLabelValues("unsubscribed_during_fetch").Inc()
		return false
	}

	log.WithFields(log.Fields{
		"id":     item.ID,
		"feed":   pending.feed,
		"sender": item.Sender,
		"link":   item.Link,
		"title":  item.Title(),
	}).Info("Added item to feed")
	messagesTotal.WithLabelValues("stored").Inc()

	return true
}
