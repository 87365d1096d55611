// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import (
	"context"
	"sync"

	"github.com/tessella-io/facet/core/logger"
)

// event names emitted over the lifecycle of the API and of every request
const (
	EventInit        = "init"
	EventRequest     = "request"
	EventPreExecute  = "preExecute"
	EventPostExecute = "postExecute"
	EventResponse    = "response"
	EventClose       = "close"
)

// EventHandler receives one event. Handlers run sequentially in
// registration order; a handler doing asynchronous work blocks until it
// is done. A handler error on the request event rejects the request,
// everywhere else it is logged and the primary flow continues.
type EventHandler func(ctx context.Context, payload any) error

type eventBus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

func newEventBus() *eventBus {
	return &eventBus{handlers: make(map[string][]EventHandler)}
}

func (b *eventBus) on(event string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], handler)
}

// emit invokes all handlers of the event in order. The first error is
// returned to the caller; whether that aborts anything is the caller's
// decision.
func (b *eventBus) emit(ctx context.Context, event string, payload any) error {
	b.mu.RLock()
	handlers := b.handlers[event]
	b.mu.RUnlock()
	var firstErr error
	for _, handler := range handlers {
		if err := handler(ctx, payload); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			logger.FromContext(ctx).WithError(err).Warnf("event handler for %s failed", event)
		}
	}
	return firstErr
}
