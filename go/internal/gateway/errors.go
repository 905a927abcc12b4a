package gateway

import (
	"errors"
	"net/http"

	"github.com/mcdev12/cardroom/go/internal/auth"
	"github.com/mcdev12/cardroom/go/internal/rematch"
	"github.com/mcdev12/cardroom/go/internal/session"
)

// ErrorCode is the wire code reported to clients for a failed request.
type ErrorCode string

const (
	CodeUnauthenticated     ErrorCode = "UNAUTHENTICATED"
	CodeBadRequest          ErrorCode = "BAD_REQUEST"
	CodeInvalidParticipants ErrorCode = "INVALID_PARTICIPANTS"
	CodeStaleVersion        ErrorCode = "STALE_VERSION"
	CodeNotTurnOwner        ErrorCode = "NOT_TURN_OWNER"
	CodeRoomNotActive       ErrorCode = "ROOM_NOT_ACTIVE"
	CodeIllegalAction       ErrorCode = "ILLEGAL_ACTION"
	CodeRuleEngineTimeout   ErrorCode = "RULE_ENGINE_TIMEOUT"
	CodeRoomNotJoinable     ErrorCode = "ROOM_NOT_JOINABLE"
	CodeRoomNotFound        ErrorCode = "ROOM_NOT_FOUND"
	CodeNotParticipant      ErrorCode = "NOT_PARTICIPANT"
	CodeNotHost             ErrorCode = "NOT_HOST"
	CodeRoomAlreadyStarted  ErrorCode = "ROOM_ALREADY_STARTED"
	CodeRoomNotEnded        ErrorCode = "ROOM_NOT_ENDED"
	CodeNoEligibleInvitees  ErrorCode = "NO_ELIGIBLE_INVITEES"
	CodeInvitationNotFound  ErrorCode = "INVITATION_NOT_FOUND"
	CodeInvitationExpired   ErrorCode = "INVITATION_EXPIRED"
	CodeNotInvitee          ErrorCode = "NOT_INVITEE"
	CodeOutcomeUnknown      ErrorCode = "OUTCOME_UNKNOWN"
	CodeUnavailable         ErrorCode = "UNAVAILABLE"
	CodeInternal            ErrorCode = "INTERNAL"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

type errorMapping struct {
	err    error
	code   ErrorCode
	status int
}

// Order matters: the rule-engine timeout is reported ahead of the generic rejection.
var errorMappings = []errorMapping{
	{auth.ErrUnauthenticated, CodeUnauthenticated, http.StatusUnauthorized},
	{ErrBadRequest, CodeBadRequest, http.StatusBadRequest},
	{session.ErrInvalidParticipants, CodeInvalidParticipants, http.StatusBadRequest},
	{session.ErrStaleVersion, CodeStaleVersion, http.StatusConflict},
	{session.ErrNotTurnOwner, CodeNotTurnOwner, http.StatusConflict},
	{session.ErrRoomNotActive, CodeRoomNotActive, http.StatusConflict},
	{session.ErrRuleEngineTimeout, CodeRuleEngineTimeout, http.StatusServiceUnavailable},
	{session.ErrIllegalAction, CodeIllegalAction, http.StatusUnprocessableEntity},
	{session.ErrRoomNotJoinable, CodeRoomNotJoinable, http.StatusConflict},
	{session.ErrRoomNotFound, CodeRoomNotFound, http.StatusNotFound},
	{session.ErrNotParticipant, CodeNotParticipant, http.StatusForbidden},
	{session.ErrNotHost, CodeNotHost, http.StatusForbidden},
	{session.ErrRoomAlreadyStarted, CodeRoomAlreadyStarted, http.StatusConflict},
	{session.ErrStoreClosed, CodeUnavailable, http.StatusServiceUnavailable},
	{session.ErrOutcomeUnknown, CodeOutcomeUnknown, http.StatusServiceUnavailable},
	{rematch.ErrRoomNotEnded, CodeRoomNotEnded, http.StatusConflict},
	{rematch.ErrNoEligibleInvitees, CodeNoEligibleInvitees, http.StatusConflict},
	{rematch.ErrInvitationNotFound, CodeInvitationNotFound, http.StatusNotFound},
	{rematch.ErrInvitationExpired, CodeInvitationExpired, http.StatusGone},
	{rematch.ErrNotInvitee, CodeNotInvitee, http.StatusForbidden},
}

// Classify maps an error to its wire code and HTTP status.
func Classify(err error) (ErrorCode, int) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.code, m.status
		}
	}
	return CodeInternal, http.StatusInternalServerError
}

// NewErrorResponse builds the client-facing error. Internal errors are not echoed.
func NewErrorResponse(err error) (ErrorResponse, int) {
	code, status := Classify(err)
	msg := err.Error()
	if code == CodeInternal {
		msg = "internal error"
	}
	return ErrorResponse{Code: code, Message: msg}, status
}
