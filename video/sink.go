// Package video fans decoded frames out to presentation consumers.
package video

import (
	"image"
	"slices"
	"sync"
)

// Frame is a decoded picture with the metadata that came with it.
type Frame struct {
	Image    image.Image
	Metadata string
	Timecode int64
}

// Consumer receives every published frame. It runs on the publishing
// goroutine and must not keep the image past the call.
type Consumer func(Frame)

// Sink holds the most recent frame and metadata and forwards each published
// frame to the registered consumers. It keeps no queue.
type Sink struct {
	mu        sync.RWMutex
	latest    Frame
	hasFrame  bool
	metadata  string
	consumers []registration
	nextID    int
	published int64
}

type registration struct {
	id       int
	consumer Consumer
}

func NewSink() *Sink {
	return &Sink{}
}

// Register adds c and returns a function removing it. Consumers are called in
// registration order.
func (s *Sink) Register(c Consumer) (unregister func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.consumers = append(s.consumers, registration{id: id, consumer: c})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.consumers = slices.DeleteFunc(s.consumers, func(r registration) bool { return r.id == id })
			s.mu.Unlock()
		})
	}
}

// Publish replaces the latest frame and hands it to every consumer.
func (s *Sink) Publish(f Frame) {
	s.mu.Lock()
	s.latest = f
	s.hasFrame = true
	s.metadata = f.Metadata
	s.published++
	consumers := make([]Consumer, 0, len(s.consumers))
	for _, r := range s.consumers {
		consumers = append(consumers, r.consumer)
	}
	s.mu.Unlock()

	for _, c := range consumers {
		c(f)
	}
}

// Latest returns the last published frame.
func (s *Sink) Latest() (Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.hasFrame
}

// Metadata returns the metadata of the last published frame.
func (s *Sink) Metadata() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata
}

// Published returns how many frames have been published.
func (s *Sink) Published() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.published
}

// Reset forgets the latest frame and metadata.
func (s *Sink) Reset() {
	s.mu.Lock()
	s.latest = Frame{}
	s.hasFrame = false
	s.metadata = ""
	s.mu.Unlock()
}
