package client_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/watchparty/go/internal/client"
	"github.com/mcdev12/watchparty/go/internal/events"
	"github.com/mcdev12/watchparty/go/internal/models"
)

// recordingPlayer is a static player that records every command it receives
type recordingPlayer struct {
	video    string
	position float64
	playing  bool
	rate     float64

	seeks []float64
	loads []string
}

func newRecordingPlayer(position float64) *recordingPlayer {
	return &recordingPlayer{position: position, rate: 1}
}

func (p *recordingPlayer) Video() string     { return p.video }
func (p *recordingPlayer) Position() float64 { return p.position }
func (p *recordingPlayer) Playing() bool     { return p.playing }
func (p *recordingPlayer) Rate() float64     { return p.rate }

func (p *recordingPlayer) Load(video string) {
	p.video = video
	p.position = 0
	p.loads = append(p.loads, video)
}

func (p *recordingPlayer) Seek(position float64) {
	p.position = position
	p.seeks = append(p.seeks, position)
}

func (p *recordingPlayer) SetPlaying(playing bool) { p.playing = playing }
func (p *recordingPlayer) SetRate(rate float64)    { p.rate = rate }

func TestEngine_PlaybackDriftRule(t *testing.T) {
	tests := []struct {
		name     string
		local    float64
		relayed  float64
		wantSeek bool
	}{
		{name: "within threshold", local: 10, relayed: 11.5, wantSeek: false},
		{name: "exactly at threshold", local: 10, relayed: 12, wantSeek: false},
		{name: "ahead past threshold", local: 10, relayed: 12.5, wantSeek: true},
		{name: "behind past threshold", local: 30, relayed: 20, wantSeek: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			player := newRecordingPlayer(tt.local)
			engine := client.NewEngine(player)
			engine.SetSelfID("me")

			applied := engine.ApplyPlayback(events.PlaybackPayload{
				Position: tt.relayed,
				Playing:  true,
				OriginID: "other",
			})

			assert.True(t, applied)
			assert.True(t, player.playing, "playing state is always adopted")
			if tt.wantSeek {
				assert.Equal(t, []float64{tt.relayed}, player.seeks)
			} else {
				assert.Empty(t, player.seeks)
			}
		})
	}
}

func TestEngine_CustomDriftThreshold(t *testing.T) {
	player := newRecordingPlayer(10)
	engine := client.NewEngine(player).WithDriftThreshold(0.5)

	engine.ApplyPlayback(events.PlaybackPayload{Position: 10.4, Playing: true, OriginID: "other"})
	assert.Empty(t, player.seeks)

	engine.ApplyPlayback(events.PlaybackPayload{Position: 11, Playing: true, OriginID: "other"})
	assert.Equal(t, []float64{11}, player.seeks)

	// non-positive values keep the current threshold
	player = newRecordingPlayer(10)
	engine = client.NewEngine(player).WithDriftThreshold(0)
	engine.ApplyPlayback(events.PlaybackPayload{Position: 11.5, Playing: true, OriginID: "other"})
	assert.Empty(t, player.seeks)
}

func TestEngine_EchoSuppression(t *testing.T) {
	player := newRecordingPlayer(5)
	engine := client.NewEngine(player)
	engine.SetSelfID("me")

	assert.False(t, engine.ApplyPlayback(events.PlaybackPayload{Position: 50, Playing: true, OriginID: "me"}))
	assert.False(t, engine.ApplySeek(events.PlaybackPayload{Position: 50, OriginID: "me"}))
	assert.False(t, engine.ApplySpeed(events.SpeedPayload{Rate: 2, OriginID: "me"}))

	assert.Empty(t, player.seeks)
	assert.False(t, player.playing)
	assert.Equal(t, 1.0, player.rate)
}

func TestEngine_SeekAlwaysMoves(t *testing.T) {
	player := newRecordingPlayer(10)
	engine := client.NewEngine(player)
	engine.SetSelfID("me")

	assert.True(t, engine.ApplySeek(events.PlaybackPayload{Position: 10.5, OriginID: "other"}))
	assert.Equal(t, []float64{10.5}, player.seeks)
}

func TestEngine_ResyncIgnoresOrigin(t *testing.T) {
	player := newRecordingPlayer(3)
	player.video = "https://example.com/a"
	engine := client.NewEngine(player)
	engine.SetSelfID("me")

	engine.ApplyResync(events.ResyncPayload{Video: "https://example.com/b", Position: 3.5, Playing: true})

	assert.Equal(t, []string{"https://example.com/b"}, player.loads)
	assert.Equal(t, []float64{3.5}, player.seeks, "resync seeks even within the drift threshold")
	assert.True(t, player.playing)

	engine.ApplyResync(events.ResyncPayload{Video: "https://example.com/b", Position: 0, Playing: false})
	assert.Len(t, player.loads, 1, "same video is not reloaded")
	assert.False(t, player.playing)
}

func TestEngine_Snapshot(t *testing.T) {
	player := newRecordingPlayer(0)
	engine := client.NewEngine(player)

	engine.ApplySnapshot(models.RoomSnapshot{
		Code:         "ab12cd",
		Video:        models.DefaultVideo,
		Position:     42,
		Playing:      true,
		PlaybackRate: 1.5,
	})

	assert.Equal(t, models.DefaultVideo, player.video)
	assert.Equal(t, 42.0, player.position)
	assert.True(t, player.playing)
	assert.Equal(t, 1.5, player.rate)
	assert.Equal(t, "ab12cd", engine.RoomCode())
}

func TestEngine_Handle(t *testing.T) {
	player := newRecordingPlayer(0)
	engine := client.NewEngine(player)

	event := func(typ events.Type, payload interface{}) *events.Event {
		ev, err := events.New(typ, "ab12cd", time.Now(), payload)
		require.NoError(t, err)
		return ev
	}

	require.NoError(t, engine.Handle(event(events.TypeConnected, events.ConnectedPayload{ConnectionID: "me"})))
	assert.Equal(t, "me", engine.SelfID())

	require.NoError(t, engine.Handle(event(events.TypePlay, events.PlaybackPayload{Position: 20, Playing: true, OriginID: "me"})))
	assert.False(t, player.playing, "own play echo is ignored")

	require.NoError(t, engine.Handle(event(events.TypePlay, events.PlaybackPayload{Position: 20, Playing: true, OriginID: "other"})))
	assert.True(t, player.playing)
	assert.Equal(t, 20.0, player.position)

	require.NoError(t, engine.Handle(event(events.TypePause, events.PlaybackPayload{Position: 21, Playing: false, OriginID: "other"})))
	assert.False(t, player.playing)
	assert.Equal(t, 20.0, player.position, "small drift is tolerated")

	require.NoError(t, engine.Handle(event(events.TypeSeek, events.PlaybackPayload{Position: 21, OriginID: "other"})))
	assert.Equal(t, 21.0, player.position)

	require.NoError(t, engine.Handle(event(events.TypeSpeedChange, events.SpeedPayload{Rate: 0.5, OriginID: "other"})))
	assert.Equal(t, 0.5, player.rate)

	require.NoError(t, engine.Handle(event(events.TypeChatMessage, events.ChatPayload{Text: "hi"})))

	bad := &events.Event{Type: events.TypePlay, Data: json.RawMessage(`{"position":"ten"}`)}
	assert.Error(t, engine.Handle(bad))

	unknown := &events.Event{Type: "confetti"}
	assert.ErrorIs(t, engine.Handle(unknown), events.ErrUnknownEventType)
}
