package subscriber

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rpi-update-ota/ota-agent/shared/filetransfer/rpc"
)

// ErrGone is returned when delivering to a subscriber whose stream has ended
var ErrGone = errors.New("subscriber is gone")

// Subscriber representation of a client listening for chunk events
type Subscriber struct {
	// client instance name sent in the request metadata
	Id string

	StreamID int64

	chunks chan *rpc.FileChunk
	done   chan struct{}
	once   sync.Once
}

// NewSubscriber creates a new instance of a subscriber
func NewSubscriber(id string) *Subscriber {
	return &Subscriber{
		Id:       id,
		StreamID: time.Now().UnixNano(),
		chunks:   make(chan *rpc.FileChunk, 16),
		done:     make(chan struct{}),
	}
}

// Deliver hands a chunk over to the subscriber stream. It blocks while the stream is busy.
func (s *Subscriber) Deliver(ctx context.Context, chunk *rpc.FileChunk) error {
	select {
	case <-s.done:
		return ErrGone
	default:
	}

	select {
	case s.chunks <- chunk:
		return nil
	case <-s.done:
		return ErrGone
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Chunks is drained by the goroutine owning the subscriber stream
func (s *Subscriber) Chunks() <-chan *rpc.FileChunk {
	return s.chunks
}

// Close marks the subscriber as gone, pending and future deliveries fail
func (s *Subscriber) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Registry that holds all currently subscribed clients
type Registry struct {
	// Subscriber.Id -> Subscriber
	subscribers sync.Map
	// regMutex ensures that registration and de-registrations are safe
	regMutex sync.Mutex
}

// NewRegistry creates a new subscriber registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Get gets a subscriber from the registry
func (registry *Registry) Get(id string) (*Subscriber, bool) {
	if load, ok := registry.subscribers.Load(id); ok {
		return load.(*Subscriber), ok
	}
	return nil, false
}

// Register registers a subscriber, a newer stream of the same instance replaces the older one
func (registry *Registry) Register(sub *Subscriber) {
	registry.regMutex.Lock()
	defer registry.regMutex.Unlock()

	s, loaded := registry.subscribers.LoadOrStore(sub.Id, sub)
	if loaded {
		prev := s.(*Subscriber)
		log.Warnf("subscriber [%s] is already registered [new streamID %d, previous StreamID %d]. Will override stream.",
			sub.Id, sub.StreamID, prev.StreamID)
		registry.subscribers.Store(sub.Id, sub)
		prev.Close()
	}
	log.Debugf("subscriber registered [%s]", sub.Id)
}

// Deregister removes a subscriber from the registry (usually once its stream ends)
func (registry *Registry) Deregister(sub *Subscriber) {
	registry.regMutex.Lock()
	defer registry.regMutex.Unlock()

	s, loaded := registry.subscribers.LoadAndDelete(sub.Id)
	if loaded {
		current := s.(*Subscriber)
		if sub.StreamID < current.StreamID {
			registry.subscribers.Store(sub.Id, s)
			log.Warnf("attempted to remove newer registered stream of a subscriber [%s] [newer streamID %d, previous StreamID %d]. Ignoring.",
				sub.Id, current.StreamID, sub.StreamID)
			return
		}
	}
	sub.Close()
	log.Debugf("subscriber deregistered [%s]", sub.Id)
}

// All returns a snapshot of the registered subscribers
func (registry *Registry) All() []*Subscriber {
	var subs []*Subscriber
	registry.subscribers.Range(func(_, value any) bool {
		subs = append(subs, value.(*Subscriber))
		return true
	})
	return subs
}
