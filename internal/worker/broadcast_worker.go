package worker

import (
	"context"

	"github.com/rs/zerolog"

	"vote-app-client/internal/domain/room"
)

var log = zerolog.Nop()

func SetLogger(l zerolog.Logger) {
	log = l
}

// Broadcaster delivers a tally update to everyone watching the room.
type Broadcaster interface {
	Broadcast(ev room.VoteUpdateEvent)
}

// BroadcastWorker moves accepted votes off the request path and fans the
// resulting tallies out to realtime subscribers, in acceptance order.
type BroadcastWorker struct {
	Ch  <-chan room.VoteUpdateEvent
	Out Broadcaster
}

func NewBroadcastWorker(ch <-chan room.VoteUpdateEvent, out Broadcaster) *BroadcastWorker {
	return &BroadcastWorker{Ch: ch, Out: out}
}

func (w *BroadcastWorker) Run(ctx context.Context) {
	log.Info().Msg("broadcast worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("broadcast worker stopped")
			return
		case ev, ok := <-w.Ch:
			if !ok {
				log.Info().Msg("broadcast worker drained")
				return
			}
			log.Debug().
				Str("room", ev.RoomID).
				Str("option", ev.OptionID).
				Int("total", ev.TotalVotes).
				Msg("broadcasting vote update")
			w.Out.Broadcast(ev)
		}
	}
}
