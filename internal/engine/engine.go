// Package engine wires the actor system: one actor per concern, each a
// single logical writer over its slice of state.
package engine

import (
	"log/slog"

	"github.com/asynkron/protoactor-go/actor"

	"mangrove/internal/database"
	"mangrove/internal/engine/actors"
	"mangrove/internal/utils"
)

// Engine coordinates communication between actors.
type Engine struct {
	voteActor         *actor.PID
	commentActor      *actor.PID
	notificationActor *actor.PID
}

func NewEngine(system *actor.ActorSystem, store database.Store, inbox database.NotificationInbox, sink actors.EventSink, metrics *utils.MetricsCollector, logger *slog.Logger) *Engine {
	context := system.Root

	// Notifications first: the other actors hold its PID.
	notificationProps := actor.PropsFromProducer(func() actor.Actor {
		return actors.NewNotificationActor(inbox, sink, metrics, logger)
	})
	notificationPID := context.Spawn(notificationProps)

	voteProps := actor.PropsFromProducer(func() actor.Actor {
		return actors.NewVoteActor(store, sink, notificationPID, metrics, logger)
	})
	votePID := context.Spawn(voteProps)

	commentProps := actor.PropsFromProducer(func() actor.Actor {
		return actors.NewCommentActor(store, sink, notificationPID, metrics, logger)
	})
	commentPID := context.Spawn(commentProps)

	return &Engine{
		voteActor:         votePID,
		commentActor:      commentPID,
		notificationActor: notificationPID,
	}
}

// GetVoteActor returns the PID of the vote actor.
func (e *Engine) GetVoteActor() *actor.PID {
	return e.voteActor
}

// GetCommentActor returns the PID of the comment actor.
func (e *Engine) GetCommentActor() *actor.PID {
	return e.commentActor
}

// GetNotificationActor returns the PID of the notification actor.
func (e *Engine) GetNotificationActor() *actor.PID {
	return e.notificationActor
}
