package protoframe

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ask sends one request and waits for the response carrying its id. The
// response subscription is one-shot and is always removed before returning.
func (e *engine) ask(ctx context.Context, ns, msgType string, body any, timeout time.Duration) (Payload, error) {
	if timeout <= 0 {
		timeout = e.timeout
	}
	id := uuid.NewString()

	var resolved atomic.Bool
	responses := make(chan Payload, 1)
	sub := e.transport.OnMessage(func(raw []byte) error {
		rec, tag, ok := e.decode(raw)
		if !ok || !MatchesResponse(ns, msgType, id, rec, tag) {
			return nil
		}
		if resolved.CompareAndSwap(false, true) {
			responses <- e.payload(rec.Response)
		}
		return nil
	})
	defer e.transport.RemoveSubscription(sub)

	data, err := EncodeBody(e.codec, ns, ActionAsk, msgType, id, body)
	if err != nil {
		return Payload{}, err
	}
	start := time.Now()
	if err := e.transport.Send(data); err != nil {
		err = fmt.Errorf("ask %s#%s: %w", ns, msgType, err)
		e.observer.RecordAsk(ns, msgType, time.Since(start), err)
		return Payload{}, err
	}
	e.observer.RecordSent(ns, ActionAsk, msgType)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var failure error
	select {
	case resp := <-responses:
		e.observer.RecordAsk(ns, msgType, time.Since(start), nil)
		return resp, nil
	case <-timer.C:
		failure = &TimeoutError{Namespace: ns, Type: msgType, Timeout: timeout, Elapsed: time.Since(start)}
	case <-ctx.Done():
		failure = ctx.Err()
	}

	// The response may have won the flag while the timer fired.
	if !resolved.CompareAndSwap(false, true) {
		resp := <-responses
		e.observer.RecordAsk(ns, msgType, time.Since(start), nil)
		return resp, nil
	}
	e.observer.RecordAsk(ns, msgType, time.Since(start), failure)
	e.logger.Debug().Err(failure).Str("namespace", ns).Str("type", msgType).Msg("ask unanswered")
	return Payload{}, failure
}

// handleAsk subscribes handler to asks of msgType in ns. Each matching request
// is answered from its own goroutine with a response carrying the request id.
// The goroutine is started from the inbox, so tells that arrived earlier are
// handled before the ask handler sees the request.
func (e *engine) handleAsk(ns, msgType string, handler AskHandler) error {
	if handler == nil {
		return fmt.Errorf("protoframe: nil ask handler for %q", msgType)
	}
	_, err := e.registry.add(func(raw []byte) error {
		rec, tag, ok := e.decode(raw)
		if !ok || !MatchesBody(ns, ActionAsk, msgType, rec, tag) {
			return nil
		}
		e.observer.RecordHandled(ns, ActionAsk, msgType)
		id, body := rec.ID, e.payload(rec.Body)
		e.inbox.push(func() { go e.answer(ns, msgType, id, tag, body, handler) })
		return nil
	})
	return err
}

func (e *engine) answer(ns, msgType, id string, tag Tag, body Payload, handler AskHandler) {
	resp, err := handler(e.ctx, body)
	if err != nil {
		if e.handlerResult(tag, err) == nil {
			return
		}
		herr := &HandlerError{Namespace: ns, Type: msgType, Err: err}
		e.observer.RecordHandlerFailure(ns, msgType)
		e.logger.Warn().Err(herr).Str("id", id).Msg("ask left unanswered")
		return
	}
	if resp == nil {
		resp = struct{}{}
	}
	data, err := EncodeResponse(e.codec, ns, msgType, id, resp)
	if err != nil {
		e.logger.Error().Err(err).Str("tag", tag.String()).Msg("encode response")
		return
	}
	if err := e.transport.Send(data); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Warn().Err(err).Str("tag", tag.String()).Msg("send response")
	}
}
