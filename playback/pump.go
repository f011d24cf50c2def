package playback

import (
	"sync"
	"time"
)

// pump drives a Callback at the real-time block cadence of a Config on its
// own goroutine, handing every filled block to sink. It stands in for the
// audio thread of devices that have no hardware callback.
type pump struct {
	cfg  Config
	cb   Callback
	sink func(block []float32) error

	mu      sync.Mutex
	playing bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newPump(cfg Config, cb Callback, sink func([]float32) error) *pump {
	return &pump{cfg: cfg, cb: cb, sink: sink}
}

func (p *pump) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		return
	}
	p.playing = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.run(p.stopCh, p.doneCh)
}

// stop waits for the pump goroutine, so the callback is never running once
// stop returns.
func (p *pump) stop() {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return
	}
	p.playing = false
	close(p.stopCh)
	done := p.doneCh
	p.mu.Unlock()
	<-done
}

func (p *pump) isPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *pump) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	block := make([]float32, p.cfg.BlockSize())
	ticker := time.NewTicker(p.cfg.BlockDuration())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.cb(block)
			if p.sink == nil {
				continue
			}
			if err := p.sink(block); err != nil {
				p.mu.Lock()
				p.playing = false
				p.mu.Unlock()
				return
			}
		}
	}
}
