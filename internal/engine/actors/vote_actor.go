package actors

import (
	stdctx "context"
	"log/slog"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"

	"mangrove/internal/database"
	"mangrove/internal/models"
	"mangrove/internal/utils"
)

// EventSink is the live-delivery side of the engine. The websocket hub
// implements it; tests swap in a recorder.
type EventSink interface {
	SendEvent(targetUserID uuid.UUID, event *models.Event)
	IsConnected(userID uuid.UUID) bool
}

// Message types for VoteActor
type (
	CastVoteMsg struct {
		UserID      uuid.UUID            `json:"userId"`
		SubjectID   uuid.UUID            `json:"subjectId"`
		SubjectType models.SubjectType   `json:"subjectType"`
		Direction   models.VoteDirection `json:"direction"`
	}

	GetVoteStateMsg struct {
		UserID      uuid.UUID          `json:"userId"`
		SubjectID   uuid.UUID          `json:"subjectId"`
		SubjectType models.SubjectType `json:"subjectType"`
	}
)

// contestScore is the vote score at which a subject's author is told the
// subject is taking off.
const contestScore = 10

// VoteActor serializes vote casts per engine instance and fans the
// resulting counter state out to live clients.
type VoteActor struct {
	store           database.Store
	sink            EventSink
	notificationPID *actor.PID
	metrics         *utils.MetricsCollector
	logger          *slog.Logger
}

func NewVoteActor(store database.Store, sink EventSink, notificationPID *actor.PID, metrics *utils.MetricsCollector, logger *slog.Logger) actor.Actor {
	return &VoteActor{
		store:           store,
		sink:            sink,
		notificationPID: notificationPID,
		metrics:         metrics,
		logger:          logger,
	}
}

func (a *VoteActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *actor.Started:
		a.logger.Info("vote actor started", "pid", context.Self().String())

	case *CastVoteMsg:
		a.handleCastVote(context, msg)

	case *GetVoteStateMsg:
		ctx, cancel := stdctx.WithTimeout(stdctx.Background(), 3*time.Second)
		defer cancel()
		state, err := a.store.GetVoteState(ctx, msg.UserID, msg.SubjectID, msg.SubjectType)
		if err != nil {
			context.Respond(err)
			return
		}
		context.Respond(state)
	}
}

func (a *VoteActor) handleCastVote(context actor.Context, msg *CastVoteMsg) {
	startTime := time.Now()

	if !msg.SubjectType.Valid() {
		context.Respond(utils.NewValidationError("invalid subject type"))
		return
	}
	if !msg.Direction.Valid() {
		context.Respond(utils.NewValidationError("voteType must be 1 or -1"))
		return
	}
	if msg.UserID == uuid.Nil {
		context.Respond(utils.NewValidationError("missing user"))
		return
	}

	ctx, cancel := stdctx.WithTimeout(stdctx.Background(), 5*time.Second)
	defer cancel()

	result, err := a.store.CastVote(ctx, msg.UserID, msg.SubjectID, msg.SubjectType, msg.Direction)
	if err != nil {
		context.Respond(err)
		return
	}

	a.metrics.RecordVote(string(msg.SubjectType), string(result.State))
	a.metrics.AddOperationLatency("cast_vote", time.Since(startTime))

	event := &models.Event{
		Type: models.EventVoteUpdated,
		Payload: models.VoteUpdatedPayload{
			SubjectID:   msg.SubjectID.String(),
			SubjectType: msg.SubjectType,
			Upvotes:     result.Upvotes,
			Downvotes:   result.Downvotes,
			VoteScore:   result.VoteScore,
		},
	}
	// The voter sees the authoritative counters even if their optimistic
	// update guessed wrong; the author sees their score move live.
	a.sink.SendEvent(msg.UserID, event)
	if authorID, ok := a.subjectAuthor(ctx, msg.SubjectID, msg.SubjectType); ok && authorID != msg.UserID {
		a.sink.SendEvent(authorID, event)

		if result.State == models.VoteStateUp && result.VoteScore == contestScore && a.notificationPID != nil {
			context.Send(a.notificationPID, &NotifyMsg{
				RecipientID: authorID,
				SenderID:    nil, // system-originated
				Type:        models.NotificationContest,
				Title:       "Your post is taking off",
				Content:     "Your contribution reached a trending vote score.",
				Link:        subjectLink(msg.SubjectID, msg.SubjectType),
				Metadata: map[string]string{
					"subjectId":   msg.SubjectID.String(),
					"subjectType": string(msg.SubjectType),
				},
			})
		}
	}

	context.Respond(result)
}

func (a *VoteActor) subjectAuthor(ctx stdctx.Context, subjectID uuid.UUID, subjectType models.SubjectType) (uuid.UUID, bool) {
	switch subjectType {
	case models.SubjectPost:
		post, err := a.store.GetPost(ctx, subjectID, uuid.Nil)
		if err != nil {
			return uuid.Nil, false
		}
		return post.AuthorID, true
	case models.SubjectSolution:
		solution, err := a.store.GetSolution(ctx, subjectID, uuid.Nil)
		if err != nil {
			return uuid.Nil, false
		}
		return solution.AuthorID, true
	case models.SubjectComment, models.SubjectSolutionComment:
		comment, err := a.store.GetComment(ctx, subjectID)
		if err != nil {
			return uuid.Nil, false
		}
		return comment.AuthorID, true
	}
	return uuid.Nil, false
}

func subjectLink(subjectID uuid.UUID, subjectType models.SubjectType) string {
	switch subjectType {
	case models.SubjectPost:
		return "/posts/" + subjectID.String()
	case models.SubjectSolution:
		return "/solutions/" + subjectID.String()
	default:
		return "/comments/" + subjectID.String()
	}
}
