package session

import "errors"

var (
	ErrInvalidParticipants = errors.New("invalid participants")
	ErrStaleVersion        = errors.New("stale version")
	ErrNotTurnOwner        = errors.New("actor is not the turn owner")
	ErrRoomNotActive       = errors.New("room not active")
	ErrIllegalAction       = errors.New("illegal action")
	ErrAutoplayFailed      = errors.New("autoplay failed")
	ErrRoomNotJoinable     = errors.New("room not joinable")
	ErrRoomNotFound        = errors.New("room not found")
	ErrNotParticipant      = errors.New("user is not a participant")
	ErrNotHost             = errors.New("only the host can start the room")
	ErrRoomAlreadyStarted  = errors.New("room already started")
	ErrRuleEngineTimeout   = errors.New("rule engine timed out")
	ErrStoreClosed         = errors.New("session store closed")
	// ErrOutcomeUnknown means the caller gave up after the room accepted the command.
	// The command may or may not have applied; the caller resyncs.
	ErrOutcomeUnknown = errors.New("request abandoned before the room replied")
)

// IsSuperseded reports whether err means the caller lost a race against another writer
// on the same room: the state it acted on is gone.
func IsSuperseded(err error) bool {
	return errors.Is(err, ErrStaleVersion) ||
		errors.Is(err, ErrNotTurnOwner) ||
		errors.Is(err, ErrRoomNotActive) ||
		errors.Is(err, ErrRoomNotFound)
}
