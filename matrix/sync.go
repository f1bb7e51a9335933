package matrix

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rssbot/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
)

var (
	syncFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rssbot_matrix_sync_failures_total",
		Help: "The total number of failed sync requests",
	})

	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rssbot_matrix_events_total",
		Help: "Events dispatched from the sync loop, by type",
	}, []string{"type"})
)

// MessageHandler receives text messages from joined rooms
type MessageHandler interface {
	Submit(ctx context.Context, msg models.Message) error
}

// InviteHandler accepts invites for the bot
type InviteHandler interface {
	Join(ctx context.Context, roomID string)
}

// Listener routes sync events to the bot
type Listener struct {
	client   *Client
	messages MessageHandler
	invites  InviteHandler
}

func NewListener(client *Client, messages MessageHandler, invites InviteHandler) *Listener {
	return &Listener{
		client:   client,
		messages: messages,
		invites:  invites,
	}
}

// syncer waits on an exponential backoff after failed syncs
type syncer struct {
	*mautrix.DefaultSyncer
	backoff *backoff.ExponentialBackOff
}

func newSyncer() *syncer {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 5 * time.Minute
	b.Multiplier = 1.5
	b.MaxElapsedTime = 0 // Never stop retrying

	return &syncer{
		DefaultSyncer: mautrix.NewDefaultSyncer(),
		backoff:       b,
	}
}

func (s *syncer) OnFailedSync(_ *mautrix.RespSync, err error) (time.Duration, error) {
	syncFailures.Inc()
	if errors.Is(err, mautrix.MUnknownToken) {
		return 0, fmt.Errorf("session is no longer valid: %w", err)
	}

	delay := s.backoff.NextBackOff()
	log.Warnf("Sync failed (%v), retrying in %s", err, delay)
	return delay, nil
}

func (s *syncer) resetBackOff(_ context.Context, _ *mautrix.RespSync, _ string) bool {
	s.backoff.Reset()
	return true
}

// Run syncs until ctx is cancelled or the session becomes invalid. Messages
// sent before the bot started are skipped, pending invites are not.
func (l *Listener) Run(ctx context.Context) error {
	s := newSyncer()
	s.OnSync(s.resetBackOff)
	s.OnSync(l.HandleInitialSync)
	s.OnEventType(event.EventMessage, l.HandleMessage)
	s.OnEventType(event.StateMember, l.HandleMember)
	s.OnEventType(event.StateRoomName, l.HandleRoomName)
	l.client.mautrix.Syncer = s

	log.Info("Starting sync")
	err := l.client.mautrix.SyncWithContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync stopped: %w", err)
	}
	return nil
}

// HandleInitialSync joins the rooms the bot was invited to while offline and
// keeps the rest of the first sync from being dispatched
func (l *Listener) HandleInitialSync(ctx context.Context, resp *mautrix.RespSync, since string) bool {
	if since != "" {
		return true
	}

	for roomID := range resp.Rooms.Invite {
		eventsReceived.WithLabelValues("invite").Inc()
		l.invites.Join(ctx, roomID.String())
	}
	return false
}

func (l *Listener) HandleMessage(ctx context.Context, evt *event.Event) {
	if evt.Mautrix.EventSource&event.SourceJoin == 0 {
		return
	}

	content := evt.Content.AsMessage()
	if content.MsgType != event.MsgText {
		return
	}
	eventsReceived.WithLabelValues("message").Inc()

	msg := models.Message{
		RoomID:     evt.RoomID.String(),
		Sender:     evt.Sender.String(),
		Body:       content.Body,
		ReceivedAt: time.UnixMilli(evt.Timestamp),
	}
	if err := l.messages.Submit(ctx, msg); err != nil {
		log.WithFields(log.Fields{
			"room":  msg.RoomID,
			"error": err,
		}).Warn("Dropped message")
	}
}

func (l *Listener) HandleMember(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != l.client.UserID() {
		// The invite isn't for us
		return
	}
	if evt.Content.AsMember().Membership != event.MembershipInvite {
		return
	}
	eventsReceived.WithLabelValues("invite").Inc()

	l.invites.Join(ctx, evt.RoomID.String())
}

func (l *Listener) HandleRoomName(_ context.Context, evt *event.Event) {
	eventsReceived.WithLabelValues("room_name").Inc()
	l.client.ForgetRoomName(evt.RoomID.String())
}
