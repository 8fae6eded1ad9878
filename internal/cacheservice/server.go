// Package cacheservice serves a key/value cache over protoframe connectors.
package cacheservice

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/seandlg/protoframe/internal/cacheproto"
	"github.com/seandlg/protoframe/internal/core/network"
	"github.com/seandlg/protoframe/internal/protoframe"
)

const (
	EventSet    = "set"
	EventDelete = "delete"

	eventsTopic         = "cache.events"
	defaultStoreTimeout = 3 * time.Second
)

// Event describes one change applied to the store.
type Event struct {
	Type string    `json:"type"`
	Key  string    `json:"key"`
	At   time.Time `json:"at"`
}

type Stats struct {
	Connectors int   `json:"connectors"`
	Sets       int64 `json:"sets"`
	Deletes    int64 `json:"deletes"`
	Gets       int64 `json:"gets"`
	Misses     int64 `json:"misses"`
}

// Server answers the cache protocol on any number of transports, all backed
// by one store.
type Server struct {
	protocol     protoframe.Protocol
	store        Store
	events       network.PubSub
	logger       zerolog.Logger
	storeTimeout time.Duration
	opts         []protoframe.Option

	mu         sync.Mutex
	connectors map[*protoframe.Pubsub]struct{}

	sets, deletes, gets, misses atomic.Int64
}

// NewServer builds a server. Change events are published on events when it is
// not nil.
func NewServer(store Store, events network.PubSub, logger zerolog.Logger, opts ...protoframe.Option) *Server {
	return &Server{
		protocol:     cacheproto.Protocol,
		store:        store,
		events:       events,
		logger:       logger,
		storeTimeout: defaultStoreTimeout,
		opts:         append([]protoframe.Option{protoframe.WithLogger(logger)}, opts...),
		connectors:   make(map[*protoframe.Pubsub]struct{}),
	}
}

// WithProtocol serves the cache catalog under another namespace.
func (s *Server) WithProtocol(p protoframe.Protocol) *Server {
	s.protocol = p
	return s
}

// Serve registers the cache handlers on a new connector over link. The
// returned connector stays registered until Release.
func (s *Server) Serve(link network.Transport) (*protoframe.Pubsub, error) {
	ps, err := protoframe.New(s.protocol, link, s.opts...)
	if err != nil {
		return nil, err
	}
	if err := s.register(ps); err != nil {
		ps.Destroy()
		return nil, err
	}
	s.mu.Lock()
	s.connectors[ps] = struct{}{}
	s.mu.Unlock()
	return ps, nil
}

// Release destroys a connector returned by Serve.
func (s *Server) Release(ps *protoframe.Pubsub) {
	s.mu.Lock()
	delete(s.connectors, ps)
	s.mu.Unlock()
	ps.Destroy()
}

// Close releases every connector. The store is left open.
func (s *Server) Close() {
	s.mu.Lock()
	all := s.connectors
	s.connectors = make(map[*protoframe.Pubsub]struct{})
	s.mu.Unlock()
	for ps := range all {
		ps.Destroy()
	}
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	n := len(s.connectors)
	s.mu.Unlock()
	return Stats{
		Connectors: n,
		Sets:       s.sets.Load(),
		Deletes:    s.deletes.Load(),
		Gets:       s.gets.Load(),
		Misses:     s.misses.Load(),
	}
}

// Subscribe streams change events. It fails when the server has no event bus.
func (s *Server) Subscribe() (<-chan network.Message, func(), error) {
	if s.events == nil {
		return nil, nil, network.ErrClosed
	}
	return s.events.Subscribe(eventsTopic)
}

func (s *Server) register(ps *protoframe.Pubsub) error {
	if err := cacheproto.Set.Handle(ps, s.handleSet); err != nil {
		return err
	}
	if err := cacheproto.Delete.Handle(ps, s.handleDelete); err != nil {
		return err
	}
	return cacheproto.Get.Handle(ps, s.handleGet)
}

// A connector runs its tell handlers in order and starts ask handlers only
// after earlier tells are done, so a set is stored before any later get on
// the same link is looked at.
func (s *Server) handleSet(req cacheproto.SetRequest) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
	defer cancel()
	if err := s.store.Set(ctx, req.Key, req.Value); err != nil {
		return err
	}
	s.sets.Add(1)
	s.publish(EventSet, req.Key)
	return nil
}

func (s *Server) handleDelete(req cacheproto.DeleteRequest) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
	defer cancel()
	if err := s.store.Delete(ctx, req.Key); err != nil {
		return err
	}
	s.deletes.Add(1)
	s.publish(EventDelete, req.Key)
	return nil
}

func (s *Server) handleGet(ctx context.Context, req cacheproto.GetRequest) (cacheproto.GetResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	s.gets.Add(1)
	v, ok, err := s.store.Get(ctx, req.Key)
	if err != nil {
		return cacheproto.GetResponse{}, err
	}
	if !ok {
		s.misses.Add(1)
		return cacheproto.GetResponse{}, nil
	}
	return cacheproto.GetResponse{Value: &v}, nil
}

func (s *Server) publish(eventType, key string) {
	if s.events == nil {
		return
	}
	b, _ := json.Marshal(Event{Type: eventType, Key: key, At: time.Now().UTC()})
	if err := s.events.Publish(eventsTopic, b); err != nil {
		s.logger.Debug().Err(err).Str("event", eventType).Msg("publish cache event")
	}
}
