package models

import "time"

// Message is a text message received in a chat room
type Message struct {
	RoomID     string    `json:"roomId"`
	Sender     string    `json:"sender"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// FeedItem is one captured message with its extracted link
type FeedItem struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Link      string    `json:"link"`
	PageName  *string   `json:"pageName,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Title returns the fetched page title, falling back to the raw message body
func (i FeedItem) Title() string {
	if i.PageName != nil {
		return *i.PageName
	}
	return i.Content
}

// Feed is a snapshot of a subscribed room's items, newest first
type Feed struct {
	Name  string     `json:"name"`
	Items []FeedItem `json:"items"`
}

// Subscription maps a chat room to the feed it publishes into
type Subscription struct {
	RoomID   string `json:"roomId"`
	FeedName string `json:"feedName"`
}
