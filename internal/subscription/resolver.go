package subscription

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/relaychat/internal/apperr"
	"github.com/lalith-99/relaychat/internal/auth"
	"github.com/lalith-99/relaychat/internal/events"
	"github.com/lalith-99/relaychat/internal/pubsub"
	"github.com/lalith-99/relaychat/internal/repository"
	"go.uber.org/zap"
)

// Resolver turns a subscription request into a stream of envelopes.
//
// Every stream is the same three-stage pipeline:
//
//	bus.Subscribe(topic) → pubsub.Filter(filter) → pubsub.Map(events.Encode)
//
// The returned stop func ends all three stages and deregisters from the
// bus. It is safe to call more than once.
type Resolver struct {
	bus          *pubsub.Bus[events.Event]
	participants repository.ParticipantRepository
	logger       *zap.Logger
}

func NewResolver(bus *pubsub.Bus[events.Event], participants repository.ParticipantRepository, logger *zap.Logger) *Resolver {
	return &Resolver{bus: bus, participants: participants, logger: logger}
}

func (r *Resolver) ConversationCreated(ctx context.Context, who *auth.Identity) (<-chan events.Envelope, func()) {
	return r.stream(ctx, events.TopicConversationCreated, who, ConversationCreatedFilter)
}

func (r *Resolver) ConversationUpdated(ctx context.Context, who *auth.Identity) (<-chan events.Envelope, func()) {
	return r.stream(ctx, events.TopicConversationUpdated, who, ConversationUpdatedFilter)
}

func (r *Resolver) ConversationDeleted(ctx context.Context, who *auth.Identity) (<-chan events.Envelope, func()) {
	return r.stream(ctx, events.TopicConversationDeleted, who, ConversationDeletedFilter)
}

// MessageSent opens a thread subscription. An authenticated caller must be
// a participant of the conversation when subscribing, and still be one
// when each message is delivered: a removal does not close the stream,
// but nothing more reaches it. An anonymous caller gets a stream that
// never delivers, like every other operation.
func (r *Resolver) MessageSent(ctx context.Context, who *auth.Identity, conversationID uuid.UUID) (<-chan events.Envelope, func(), error) {
	if who != nil {
		p, err := r.participants.Get(ctx, conversationID, who.UserID)
		if err != nil {
			r.logger.Error("check participant failed", zap.Error(err))
			return nil, nil, apperr.Store("subscribe failed", err)
		}
		if p == nil {
			return nil, nil, apperr.Unauthorized("not a participant of this conversation")
		}
	}
	filter := r.memberOnly(ctx, conversationID, MessageSentFilter(conversationID))
	ch, stop := r.stream(ctx, events.MessageSentTopic(conversationID), who, filter)
	return ch, stop, nil
}

// memberOnly narrows filter to events whose subscriber is a participant
// of conversationID at delivery time. A failed lookup drops the event.
func (r *Resolver) memberOnly(ctx context.Context, conversationID uuid.UUID, filter Filter) Filter {
	return func(evt events.Event, who *auth.Identity) bool {
		if !filter(evt, who) {
			return false
		}
		p, err := r.participants.Get(ctx, conversationID, who.UserID)
		if err != nil {
			r.logger.Warn("check participant failed",
				zap.String("conversation_id", conversationID.String()),
				zap.Error(err),
			)
			return false
		}
		return p != nil
	}
}

// Resolve dispatches on the operation name used on the wire.
func (r *Resolver) Resolve(ctx context.Context, who *auth.Identity, operation string, conversationID uuid.UUID) (<-chan events.Envelope, func(), error) {
	switch operation {
	case events.NameConversationCreated:
		ch, stop := r.ConversationCreated(ctx, who)
		return ch, stop, nil
	case events.NameConversationUpdated:
		ch, stop := r.ConversationUpdated(ctx, who)
		return ch, stop, nil
	case events.NameConversationDeleted:
		ch, stop := r.ConversationDeleted(ctx, who)
		return ch, stop, nil
	case events.NameMessageSent:
		if conversationID == uuid.Nil {
			return nil, nil, apperr.Invalid("messageSent needs a conversation_id")
		}
		return r.MessageSent(ctx, who, conversationID)
	default:
		return nil, nil, apperr.Invalid("unknown subscription operation " + operation)
	}
}

func (r *Resolver) stream(ctx context.Context, topic string, who *auth.Identity, filter Filter) (<-chan events.Envelope, func()) {
	ctx, cancel := context.WithCancel(ctx)
	sub := r.bus.Subscribe(topic)

	keep := func(evt events.Event) bool {
		if filter(evt, who) {
			return true
		}
		r.logger.Debug("event filtered out",
			zap.String("topic", topic),
			zap.String("event", evt.Name()),
		)
		return false
	}
	encode := func(evt events.Event) (events.Envelope, bool) {
		env, err := events.Encode(evt)
		if err != nil {
			r.logger.Error("encode event failed", zap.String("event", evt.Name()), zap.Error(err))
			return events.Envelope{}, false
		}
		return env, true
	}

	out := pubsub.Map(ctx, pubsub.Filter(ctx, sub.C(), keep), encode)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			sub.Close()
			cancel()
		})
	}
	return out, stop
}
