package room

import "errors"

// ErrRoomNotFound is returned when no live room has the requested code
var ErrRoomNotFound = errors.New("room not found")

// ErrInvalidMutation is returned when an update would break a room invariant
var ErrInvalidMutation = errors.New("invalid room mutation")

// ErrCodeSpaceExhausted is returned when no unused code could be generated
var ErrCodeSpaceExhausted = errors.New("could not generate unique room code")
