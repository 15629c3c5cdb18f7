// Package stream implements the live notification stream: a per-viewer
// polling loop that pushes newly arrived messages, notification-count
// changes and delay changes over an EventWriter until the connection
// closes or the session expires.
package stream

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/npezzotti/go-delaychat/internal/config"
	"github.com/npezzotti/go-delaychat/internal/database"
	"github.com/npezzotti/go-delaychat/internal/delay"
	"github.com/npezzotti/go-delaychat/internal/stats"
	"github.com/npezzotti/go-delaychat/internal/types"
)

const (
	EventDelay        = "delay"
	EventMessage      = "msg"
	EventNotification = "notification"
	EventLogout       = "logout"
)

// Params describes one viewer's connection. The conversation has
// already been resolved and authorized by the caller.
type Params struct {
	Viewer        types.User
	SessionExpiry time.Time
	// ConversationId is the conversation the viewer has open; its
	// messages are streamed directly and excluded from notification
	// counts.
	ConversationId int
	// BothSites reports whether the open conversation has participants
	// on both sites, which determines whether messages can be in
	// transit at all.
	BothSites bool
	// LastMessageId is the stream's starting checkpoint, typically the
	// newest message the client already has from its initial history
	// load. Zero replays all arrived history as events.
	LastMessageId int
}

// Stream is a single viewer's live connection. It owns its cursor state
// exclusively; concurrent streams share nothing but the repository.
type Stream struct {
	log   *log.Logger
	db    database.DelayChatRepository
	clock *delay.Clock
	stats stats.StatsProvider
	cfg   *config.Config

	params Params

	// now is a clock hook for tests.
	now func() time.Time

	// Cursor state, owned by Run.
	lastMsgId     int
	prevDelay     time.Duration
	delaySent     bool
	prevNotifs    map[int]types.NotificationCount
	lastEventTime time.Time
}

func NewStream(logger *log.Logger, db database.DelayChatRepository, clock *delay.Clock, sp stats.StatsProvider, cfg *config.Config, params Params) *Stream {
	return &Stream{
		log:        logger,
		db:         db,
		clock:      clock,
		stats:      sp,
		cfg:        cfg,
		params:     params,
		now:        time.Now,
		lastMsgId:  params.LastMessageId,
		prevNotifs: make(map[int]types.NotificationCount),
	}
}

// Run drives the stream until the context is canceled (client
// disconnect), a write fails, or the session expires. It always returns
// nil on the expected end-of-life paths; only setup failures surface.
func (s *Stream) Run(ctx context.Context, w EventWriter) error {
	if !s.now().Before(s.params.SessionExpiry) {
		s.writeLogout(w)
		return nil
	}

	s.stats.Incr(stats.ActiveStreams)
	defer s.stats.Decr(stats.ActiveStreams)

	// Let the client finish its initial history load before the first
	// iteration.
	if !s.wait(ctx, s.cfg.SettleDelay) {
		return nil
	}

	s.lastEventTime = s.now()

	for {
		now := s.now()

		if !s.emitDelay(w, now) {
			return nil
		}
		if !s.emitMessages(w, now) {
			return nil
		}
		if !s.emitNotifications(w, now) {
			return nil
		}

		// Keep intermediaries from closing an idle connection.
		if s.now().Sub(s.lastEventTime) >= s.cfg.KeepAliveInterval {
			if err := w.WriteComment(); err != nil {
				return nil
			}
			s.stats.Incr(stats.StreamKeepAlivesSent)
			s.lastEventTime = s.now()
		}

		w.Flush()

		if !s.now().Before(s.params.SessionExpiry) {
			s.writeLogout(w)
			return nil
		}

		if !s.wait(ctx, s.cfg.PollInterval) {
			return nil
		}
	}
}

// emitDelay sends a delay event whenever the current delay differs from
// the last value sent on this connection. Returns false on write
// failure.
func (s *Stream) emitDelay(w EventWriter, now time.Time) bool {
	d := s.clock.Current()
	if s.delaySent && d == s.prevDelay {
		return true
	}

	status := types.DelayStatus{
		Delay:    delay.FormatDelay(d),
		Distance: delay.FormatDistance(d),
	}
	if err := w.WriteEvent(EventDelay, "", status); err != nil {
		return false
	}

	s.stats.Incr(stats.StreamEventsSent)
	s.prevDelay = d
	s.delaySent = true
	s.lastEventTime = now
	return true
}

// emitMessages sends every message that has arrived for the viewer
// since the checkpoint and marks the batch delivered. The checkpoint
// only advances, so no message id is emitted twice on one connection.
func (s *Stream) emitMessages(w EventWriter, now time.Time) bool {
	convoIds := []int{s.params.ConversationId}
	messages, err := s.db.ArrivedMessages(
		convoIds,
		s.params.Viewer.Id,
		s.params.Viewer.IsHabitat,
		now,
		s.lastMsgId,
		s.cfg.PageSize,
	)
	if err != nil {
		// One failed poll is not fatal; the next iteration retries.
		s.log.Printf("stream: arrived messages: %v", err)
		return true
	}

	for _, msg := range messages {
		wireMsg := WireMessage(msg, s.params.BothSites, now)
		if err := w.WriteEvent(EventMessage, strconv.Itoa(msg.Id), wireMsg); err != nil {
			return false
		}

		s.stats.Incr(stats.StreamEventsSent)
		if msg.Id > s.lastMsgId {
			s.lastMsgId = msg.Id
		}
	}

	if len(messages) > 0 {
		if err := s.db.MarkDelivered(convoIds, s.params.Viewer.Id, s.params.Viewer.IsHabitat, now); err != nil {
			s.log.Printf("stream: mark delivered: %v", err)
		}
		s.lastEventTime = now
	}

	return true
}

// emitNotifications sends one notification event per conversation whose
// pending count changed since the previous iteration.
func (s *Stream) emitNotifications(w EventWriter, now time.Time) bool {
	notifications, err := s.db.Notifications(
		s.params.ConversationId,
		s.params.Viewer.Id,
		s.params.Viewer.IsHabitat,
		now,
	)
	if err != nil {
		s.log.Printf("stream: notifications: %v", err)
		return true
	}

	if len(notifications) == 0 {
		return true
	}

	changed := false
	snapshot := make(map[int]types.NotificationCount, len(notifications))
	for _, n := range notifications {
		count := types.NotificationCount{NumNew: n.NumNew, NumImportant: n.NumImportant}
		snapshot[n.ConversationId] = count

		if prev, ok := s.prevNotifs[n.ConversationId]; ok && prev == count {
			continue
		}

		notif := types.Notification{
			ConversationId: n.ConversationId,
			NumMessages:    count,
		}
		if err := w.WriteEvent(EventNotification, "", notif); err != nil {
			return false
		}

		s.stats.Incr(stats.StreamEventsSent)
		changed = true
	}

	s.prevNotifs = snapshot
	if changed {
		s.lastEventTime = now
	}

	return true
}

func (s *Stream) writeLogout(w EventWriter) {
	if err := w.WriteEvent(EventLogout, "", map[string]string{"reason": "session expired"}); err == nil {
		w.Flush()
	}
}

// wait sleeps for d or until the connection's context is done,
// whichever comes first. Returns false when the stream should stop.
func (s *Stream) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// WireMessage converts a stored message to its wire shape. The delivery
// status reflects whether the remote site has received the message yet:
// it is "Transit" while the conversation spans both sites and the
// remote-side arrival instant is still in the future.
func WireMessage(m database.Message, bothSites bool, now time.Time) types.Message {
	remoteRecv := m.RecvTimeMcc
	if !m.AuthorIsHabitat {
		remoteRecv = m.RecvTimeHab
	}

	status := "Delivered"
	if bothSites && now.Before(remoteRecv) {
		status = "Transit"
	}

	return types.Message{
		Id:              m.Id,
		ConversationId:  m.ConversationId,
		Author:          m.Username,
		AuthorIsHabitat: m.AuthorIsHabitat,
		Body:            m.Body,
		Kind:            m.Kind,
		FileName:        m.FileOriginalName.String,
		FileMimeType:    m.FileMimeType.String,
		SentTime:        m.SentTime,
		RecvTimeHab:     m.RecvTimeHab,
		RecvTimeMcc:     m.RecvTimeMcc,
		DeliveredStatus: status,
	}
}
