package room

import (
	"crypto/rand"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/models"
)

const codeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// maxCodeAttempts bounds the retries when a generated code is already live
const maxCodeAttempts = 16

// CodeGenerator produces candidate room codes
type CodeGenerator func() (string, error)

// Config holds the defaults applied to new rooms
type Config struct {
	CodeLength   int
	DefaultVideo string
	DefaultTheme string
}

// DefaultConfig returns the stock room defaults
func DefaultConfig() Config {
	return Config{
		CodeLength:   6,
		DefaultVideo: models.DefaultVideo,
		DefaultTheme: models.DefaultTheme,
	}
}

// Mutation is a field-level room update. Nil fields are left untouched.
type Mutation struct {
	Position     *float64
	Playing      *bool
	Video        *string
	Theme        *string
	PlaybackRate *float64
	UpdatedBy    string
}

// Registry owns every live room of the process. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*models.Room
	config  Config
	clock   clockwork.Clock
	newCode CodeGenerator
}

// NewRegistry creates an empty registry
func NewRegistry(config Config, clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.CodeLength <= 0 {
		config.CodeLength = DefaultConfig().CodeLength
	}
	return &Registry{
		rooms:   make(map[string]*models.Room),
		config:  config,
		clock:   clock,
		newCode: RandomCodeGenerator(config.CodeLength),
	}
}

// WithCodeGenerator swaps the code source, mainly for tests
func (r *Registry) WithCodeGenerator(gen CodeGenerator) *Registry {
	r.newCode = gen
	return r
}

// RandomCodeGenerator draws codes of the given length from [a-z0-9]
func RandomCodeGenerator(length int) CodeGenerator {
	// bytes at or above this bound are discarded so every symbol is equally likely
	const bound = 256 - 256%len(codeAlphabet)

	return func() (string, error) {
		code := make([]byte, 0, length)
		buf := make([]byte, length*2)
		for len(code) < length {
			if _, err := rand.Read(buf); err != nil {
				return "", fmt.Errorf("read random bytes: %w", err)
			}
			for _, b := range buf {
				if int(b) >= bound || len(code) == length {
					continue
				}
				code = append(code, codeAlphabet[int(b)%len(codeAlphabet)])
			}
		}
		return string(code), nil
	}
}

// Create inserts a room with default state under a fresh code
func (r *Registry) Create() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := r.newCode()
		if err != nil {
			return "", fmt.Errorf("failed to generate room code: %w", err)
		}
		if _, taken := r.rooms[code]; taken {
			log.Debug().Str("room_code", code).Int("attempt", attempt).Msg("room code collision, retrying")
			continue
		}

		now := r.clock.Now()
		r.rooms[code] = &models.Room{
			Code:         code,
			Video:        r.config.DefaultVideo,
			PlaybackRate: models.DefaultPlaybackRate,
			Theme:        r.config.DefaultTheme,
			Participants: make(map[string]models.Participant),
			CreatedAt:    now,
		}

		log.Info().Str("room_code", code).Int("live_rooms", len(r.rooms)).Msg("room created")
		return code, nil
	}
	return "", ErrCodeSpaceExhausted
}

// Get returns a copy of the room
func (r *Registry) Get(code string) (models.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[code]
	if !ok {
		return models.Room{}, fmt.Errorf("get room %q: %w", code, ErrRoomNotFound)
	}
	return room.Clone(), nil
}

// Exists reports whether code names a live room
func (r *Registry) Exists(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[code]
	return ok
}

// Apply updates the room and stamps LastUpdateAt
func (r *Registry) Apply(code string, m Mutation) (models.Room, error) {
	if err := validateMutation(m); err != nil {
		return models.Room{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[code]
	if !ok {
		return models.Room{}, fmt.Errorf("apply to room %q: %w", code, ErrRoomNotFound)
	}

	if m.Position != nil {
		room.Position = *m.Position
	}
	if m.Playing != nil {
		room.Playing = *m.Playing
	}
	if m.Video != nil {
		room.Video = *m.Video
	}
	if m.Theme != nil {
		room.Theme = *m.Theme
	}
	if m.PlaybackRate != nil {
		room.PlaybackRate = *m.PlaybackRate
	}
	room.LastUpdateAt = r.clock.Now()
	room.LastUpdatedBy = m.UpdatedBy

	return room.Clone(), nil
}

func validateMutation(m Mutation) error {
	if m.Position != nil {
		p := *m.Position
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			return fmt.Errorf("%w: position %v", ErrInvalidMutation, p)
		}
	}
	if m.PlaybackRate != nil {
		rate := *m.PlaybackRate
		if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
			return fmt.Errorf("%w: playback rate %v", ErrInvalidMutation, rate)
		}
	}
	if m.Video != nil && *m.Video == "" {
		return fmt.Errorf("%w: empty video reference", ErrInvalidMutation)
	}
	return nil
}

// AddParticipant records connID as joined and returns the updated room.
// Re-adding an existing participant keeps its original join time.
func (r *Registry) AddParticipant(code, connID, displayName string) (models.Room, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[code]
	if !ok {
		return models.Room{}, false, fmt.Errorf("join room %q: %w", code, ErrRoomNotFound)
	}
	if _, exists := room.Participants[connID]; exists {
		return room.Clone(), false, nil
	}
	room.Participants[connID] = models.Participant{
		DisplayName: displayName,
		JoinedAt:    r.clock.Now(),
	}
	return room.Clone(), true, nil
}

// RemoveParticipant drops connID from the room. It returns the removed entry and
// the number of participants left.
func (r *Registry) RemoveParticipant(code, connID string) (models.Participant, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[code]
	if !ok {
		return models.Participant{}, 0, false
	}
	p, exists := room.Participants[connID]
	if !exists {
		return models.Participant{}, len(room.Participants), false
	}
	delete(room.Participants, connID)
	return p, len(room.Participants), true
}

// RoomsOf lists, in code order, every room connID is joined to
func (r *Registry) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var codes []string
	for code, room := range r.rooms {
		if _, ok := room.Participants[connID]; ok {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

// Stats summarises the registry for the stats endpoint
func (r *Registry) Stats() (rooms, participants int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, room := range r.rooms {
		participants += len(room.Participants)
	}
	return len(r.rooms), participants
}
