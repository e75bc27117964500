package client

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Player is the local video player the engine keeps in sync
type Player interface {
	Video() string
	Position() float64
	Playing() bool
	Rate() float64

	Load(video string)
	Seek(position float64)
	SetPlaying(playing bool)
	SetRate(rate float64)
}

// VirtualPlayer is a clock-driven player with no media behind it. Its position
// advances with the clock while playing.
type VirtualPlayer struct {
	mu    sync.Mutex
	clock clockwork.Clock

	video   string
	base    float64
	anchor  time.Time
	playing bool
	rate    float64
}

// NewVirtualPlayer creates a paused player at position 0
func NewVirtualPlayer(clock clockwork.Clock) *VirtualPlayer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &VirtualPlayer{
		clock:  clock,
		anchor: clock.Now(),
		rate:   1.0,
	}
}

func (p *VirtualPlayer) Video() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.video
}

func (p *VirtualPlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *VirtualPlayer) positionLocked() float64 {
	if !p.playing {
		return p.base
	}
	return p.base + p.clock.Since(p.anchor).Seconds()*p.rate
}

func (p *VirtualPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *VirtualPlayer) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

// Load swaps the video and rewinds, keeping the play state
func (p *VirtualPlayer) Load(video string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.video = video
	p.base = 0
	p.anchor = p.clock.Now()
}

func (p *VirtualPlayer) Seek(position float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if position < 0 {
		position = 0
	}
	p.base = position
	p.anchor = p.clock.Now()
}

func (p *VirtualPlayer) SetPlaying(playing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rebaseLocked()
	p.playing = playing
}

func (p *VirtualPlayer) SetRate(rate float64) {
	if rate <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rebaseLocked()
	p.rate = rate
}

// rebaseLocked folds elapsed play time into base so state changes start from
// the current position
func (p *VirtualPlayer) rebaseLocked() {
	p.base = p.positionLocked()
	p.anchor = p.clock.Now()
}
