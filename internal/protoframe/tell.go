package protoframe

import (
	"fmt"
)

// tell encodes body as a tell record and hands it to the transport.
func (e *engine) tell(ns, msgType string, body any) error {
	data, err := EncodeBody(e.codec, ns, ActionTell, msgType, "", body)
	if err != nil {
		return err
	}
	if err := e.transport.Send(data); err != nil {
		return fmt.Errorf("tell %s#%s: %w", ns, msgType, err)
	}
	e.observer.RecordSent(ns, ActionTell, msgType)
	return nil
}

// handleTell subscribes handler to tells of msgType in ns. The handler runs
// on the connector's inbox goroutine.
func (e *engine) handleTell(ns, msgType string, handler TellHandler) error {
	if handler == nil {
		return fmt.Errorf("protoframe: nil tell handler for %q", msgType)
	}
	_, err := e.registry.add(func(raw []byte) error {
		rec, tag, ok := e.decode(raw)
		if !ok || !MatchesBody(ns, ActionTell, msgType, rec, tag) {
			return nil
		}
		e.observer.RecordHandled(ns, ActionTell, msgType)
		body := e.payload(rec.Body)
		e.inbox.push(func() {
			if err := e.handlerResult(tag, handler(body)); err != nil {
				e.observer.RecordHandlerFailure(ns, msgType)
				e.logger.Warn().Err(&HandlerError{Namespace: ns, Type: msgType, Err: err}).Msg("tell handler failed")
			}
		})
		return nil
	})
	return err
}
