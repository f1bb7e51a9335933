package bot_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"rssbot/extract"
)

var errOffline = errors.New("homeserver offline")

// fakeRooms resolves room names from a fixed map
type fakeRooms struct {
	names map[string]string
	err   error
}

func (r *fakeRooms) RoomName(_ context.Context, roomID string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return r.names[roomID], nil
}

// fakeTitles answers title lookups from a fixed map, failing for unknown links
type fakeTitles struct {
	mu     sync.Mutex
	titles map[string]string
	delays map[string]time.Duration
	calls  []string
}

func (f *fakeTitles) Title(ctx context.Context, link string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, link)
	delay := f.delays[link]
	title, ok := f.titles[link]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if !ok {
		return "", extract.ErrNoTitle
	}
	return title, nil
}

type sentText struct {
	RoomID string
	Text   string
}

// fakeMessenger records everything sent
type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentText
}

func (m *fakeMessenger) SendText(_ context.Context, roomID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentText{RoomID: roomID, Text: text})
	return nil
}

func (m *fakeMessenger) Sent() []sentText {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentText(nil), m.sent...)
}
