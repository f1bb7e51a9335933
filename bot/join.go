package bot

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

const (
	joinInitialDelay = 2 * time.Second
	// Delays run 2s, 4s, ... 2048s. The next one would pass an hour, at which
	// point the room is given up on.
	joinMaxRetries = 11
)

// RoomJoiner joins a room the bot was invited to
type RoomJoiner interface {
	JoinRoom(ctx context.Context, roomID string) error
}

// JoinBackOff returns the retry schedule used when joining a room fails
func JoinBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = joinInitialDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = time.Hour
	b.MaxElapsedTime = 0 // Bounded by the retry count instead
	b.Reset()

	return backoff.WithMaxRetries(b, joinMaxRetries)
}

// Joiner accepts room invites in the background, retrying failed joins
type Joiner struct {
	rooms RoomJoiner

	// NewTimer is used to wait between attempts, nil uses a real timer
	NewTimer func() backoff.Timer

	wg sync.WaitGroup
}

func NewJoiner(rooms RoomJoiner) *Joiner {
	return &Joiner{rooms: rooms}
}

// Join starts joining roomID without blocking the caller. Retries stop when
// ctx is cancelled.
func (j *Joiner) Join(ctx context.Context, roomID string) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		_ = j.JoinWithRetry(ctx, roomID)
	}()
}

// Wait blocks until all pending joins have finished or given up
func (j *Joiner) Wait() {
	j.wg.Wait()
}

// JoinWithRetry joins roomID, retrying on the JoinBackOff schedule
func (j *Joiner) JoinWithRetry(ctx context.Context, roomID string) error {
	logger := log.WithField("room", roomID)
	logger.Info("Autojoining room")

	var timer backoff.Timer
	if j.NewTimer != nil {
		timer = j.NewTimer()
	}

	operation := func() error {
		err := j.rooms.JoinRoom(ctx, roomID)
		if err != nil {
			joinAttempts.WithLabelValues("error").Inc()
		} else {
			joinAttempts.WithLabelValues("success").Inc()
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		logger.Warnf("Failed to join room (%v), retrying in %s", err, delay)
	}

	err := backoff.RetryNotifyWithTimer(operation, backoff.WithContext(JoinBackOff(), ctx), notify, timer)
	if err != nil {
		logger.Errorf("Can't join room: %v", err)
		return err
	}

	logger.Info("Successfully joined room")
	return nil
}
