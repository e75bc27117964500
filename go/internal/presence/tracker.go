package presence

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/room"
)

// DefaultAdjectives and DefaultNouns make up generated display names
var (
	DefaultAdjectives = []string{"Happy", "Lucky", "Sunny", "Clever", "Swift", "Brave", "Bright"}
	DefaultNouns      = []string{"Panda", "Fox", "Eagle", "Dolphin", "Tiger", "Wolf", "Bear"}
)

// Words holds the name lists. Empty lists fall back to the defaults.
type Words struct {
	Adjectives []string `yaml:"adjectives"`
	Nouns      []string `yaml:"nouns"`
}

// Tracker hands out display names and maintains room participant sets
type Tracker struct {
	rooms *room.Registry
	words Words

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewTracker creates a tracker backed by the registry. rng may be nil.
func NewTracker(rooms *room.Registry, words Words, rng *rand.Rand) *Tracker {
	if len(words.Adjectives) == 0 {
		words.Adjectives = DefaultAdjectives
	}
	if len(words.Nouns) == 0 {
		words.Nouns = DefaultNouns
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Tracker{rooms: rooms, words: words, rng: rng}
}

// AssignDisplayName returns a name of the form {Adjective}{Noun}{0-99}.
// Names are cosmetic and may repeat.
func (t *Tracker) AssignDisplayName() string {
	t.rngMu.Lock()
	defer t.rngMu.Unlock()

	adj := t.words.Adjectives[t.rng.IntN(len(t.words.Adjectives))]
	noun := t.words.Nouns[t.rng.IntN(len(t.words.Nouns))]
	return fmt.Sprintf("%s%s%d", adj, noun, t.rng.IntN(100))
}

// Join adds connID to the room. added is false when it was already present.
func (t *Tracker) Join(roomCode, connID, displayName string) (models.Room, bool, error) {
	r, added, err := t.rooms.AddParticipant(roomCode, connID, displayName)
	if err != nil {
		return models.Room{}, false, fmt.Errorf("presence join: %w", err)
	}
	return r, added, nil
}

// Leave removes connID from the room and reports how many participants remain
func (t *Tracker) Leave(roomCode, connID string) (models.Participant, int, bool) {
	return t.rooms.RemoveParticipant(roomCode, connID)
}

// RoomsOf lists every room connID is currently joined to
func (t *Tracker) RoomsOf(connID string) []string {
	return t.rooms.RoomsOf(connID)
}

// DisplayName resolves connID's name within the room
func (t *Tracker) DisplayName(roomCode, connID string) (string, bool) {
	r, err := t.rooms.Get(roomCode)
	if err != nil {
		return "", false
	}
	p, ok := r.Participants[connID]
	return p.DisplayName, ok
}

// Participants returns the room's participants ordered by join time
func (t *Tracker) Participants(roomCode string) ([]models.ParticipantInfo, error) {
	r, err := t.rooms.Get(roomCode)
	if err != nil {
		return nil, err
	}
	return r.ParticipantList(), nil
}
