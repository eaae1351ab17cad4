// Package service holds the mutation handlers and queries behind the HTTP
// surface.
//
// Every mutation follows the same shape: check the caller, do all store
// writes inside one Store.InTx, and only after the commit succeeded
// publish the domain event. A failed transaction never publishes.
package service

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lalith-99/relaychat/internal/apperr"
	"github.com/lalith-99/relaychat/internal/auth"
	"github.com/lalith-99/relaychat/internal/events"
	"go.uber.org/zap"
)

var validate = validator.New()

// Publisher is the side of the event bus that services use.
// *pubsub.Bus[events.Event] satisfies it.
type Publisher interface {
	Publish(topic string, payload events.Event) int
}

var errNotAuthorized = apperr.Unauthorized("not authorized")

func requireIdentity(who *auth.Identity) error {
	if who == nil || who.UserID == uuid.Nil {
		return errNotAuthorized
	}
	return nil
}

// fail converts err into something safe to return. Typed errors raised
// inside a transaction pass through; anything else is a store failure,
// logged here with the operation name and hidden from the caller.
func fail(logger *zap.Logger, op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	logger.Error(op+" failed", zap.Error(err))
	return apperr.Store(op+" failed", err)
}

func publish(bus Publisher, logger *zap.Logger, evt events.Event) {
	n := bus.Publish(evt.Topic(), evt)
	logger.Debug("event published",
		zap.String("event", evt.Name()),
		zap.String("topic", evt.Topic()),
		zap.Int("subscribers", n),
	)
}
