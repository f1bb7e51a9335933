// Package store holds the in-memory subscription and feed state shared by the
// chat side and the HTTP side of the bridge.
package store

import (
	"sync"
	"time"

	"rssbot/models"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// MaxItems is the number of items kept per feed
const MaxItems = 50

type SubscribeResult int

const (
	Created SubscribeResult = iota
	AlreadyExists
)

type UnsubscribeResult int

const (
	Removed UnsubscribeResult = iota
	NotSubscribed
)

// Store maps rooms to feed names and feed names to their items. All
// mutations take the write lock for their whole duration, reads take the
// read lock and return copies.
type Store struct {
	sync.RWMutex

	// room id -> feed name, plus the room ids in subscription order
	subscriptions map[string]string
	order         []string

	feeds map[string][]models.FeedItem

	now func() time.Time
}

// New creates an empty store
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty store that stamps items using now
func NewWithClock(now func() time.Time) *Store {
	return &Store{
		subscriptions: make(map[string]string),
		feeds:         make(map[string][]models.FeedItem),
		now:           now,
	}
}

// Subscribe maps roomID to feedName and creates an empty feed, unless the
// room is already subscribed.
func (s *Store) Subscribe(roomID, feedName string) SubscribeResult {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.subscriptions[roomID]; ok {
		return AlreadyExists
	}

	s.subscriptions[roomID] = feedName
	s.order = append(s.order, roomID)
	// Rooms sharing a display name share a feed
	if _, ok := s.feeds[feedName]; !ok {
		s.feeds[feedName] = []models.FeedItem{}
	}

	log.WithFields(log.Fields{
		"room":  roomID,
		"feed":  feedName,
		"count": len(s.subscriptions),
	}).Info("Subscribed room")

	return Created
}

// Unsubscribe removes the room's mapping and discards its feed unless another
// room still publishes into it. The feed name the room was subscribed under
// is returned when it was removed.
func (s *Store) Unsubscribe(roomID string) (UnsubscribeResult, string) {
	s.Lock()
	defer s.Unlock()

	feedName, ok := s.subscriptions[roomID]
	if !ok {
		return NotSubscribed, ""
	}

	delete(s.subscriptions, roomID)
	s.order = lo.Without(s.order, roomID)
	if !lo.Contains(lo.Values(s.subscriptions), feedName) {
		delete(s.feeds, feedName)
	}

	log.WithFields(log.Fields{
		"room":  roomID,
		"feed":  feedName,
		"count": len(s.subscriptions),
	}).Info("Unsubscribed room")

	return Removed, feedName
}

// ListSubscriptions returns the subscriptions in the order they were made
func (s *Store) ListSubscriptions() []models.Subscription {
	s.RLock()
	defer s.RUnlock()

	return lo.Map(s.order, func(roomID string, _ int) models.Subscription {
		return models.Subscription{RoomID: roomID, FeedName: s.subscriptions[roomID]}
	})
}

// HasFeed reports whether a feed exists under feedName
func (s *Store) HasFeed(feedName string) bool {
	s.RLock()
	defer s.RUnlock()

	_, ok := s.feeds[feedName]
	return ok
}

// AppendItem stamps item with the current time and puts it at the head of
// the feed, dropping the oldest items past MaxItems. Returns false when the
// feed no longer exists.
func (s *Store) AppendItem(feedName string, item models.FeedItem) bool {
	s.Lock()
	defer s.Unlock()

	items, ok := s.feeds[feedName]
	if !ok {
		return false
	}

	item.Timestamp = s.now()

	updated := make([]models.FeedItem, 0, min(len(items)+1, MaxItems))
	updated = append(updated, item)
	updated = append(updated, items[:min(len(items), MaxItems-1)]...)
	s.feeds[feedName] = updated

	return true
}

// GetFeed returns a copy of the named feed
func (s *Store) GetFeed(feedName string) (models.Feed, bool) {
	s.RLock()
	defer s.RUnlock()

	items, ok := s.feeds[feedName]
	if !ok {
		return models.Feed{}, false
	}

	return models.Feed{
		Name:  feedName,
		Items: lo.Map(items, func(item models.FeedItem, _ int) models.FeedItem { return cloneItem(item) }),
	}, true
}

func cloneItem(item models.FeedItem) models.FeedItem {
	if item.PageName != nil {
		pageName := *item.PageName
		item.PageName = &pageName
	}
	return item
}
