package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/cardroom/go/internal/auth"
	"github.com/mcdev12/cardroom/go/internal/models"
	"github.com/mcdev12/cardroom/go/internal/presence"
	"github.com/mcdev12/cardroom/go/internal/rematch"
	"github.com/mcdev12/cardroom/go/internal/session"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// ErrBadRequest marks malformed client input.
var ErrBadRequest = errors.New("bad request")

// RoomStore is the part of the Session Store the gateway drives.
type RoomStore interface {
	CreateRoom(ctx context.Context, req session.CreateRoomRequest) (models.Snapshot, error)
	Join(ctx context.Context, roomID uuid.UUID, userID string) (models.Snapshot, error)
	Leave(ctx context.Context, roomID uuid.UUID, userID string) (models.Snapshot, error)
	StartRoom(ctx context.Context, roomID uuid.UUID, actorID string, expectedVersion int64) (models.Snapshot, error)
	ApplyAction(ctx context.Context, req session.ApplyRequest) (models.Snapshot, error)
	EndRoom(ctx context.Context, roomID uuid.UUID, reason string) (models.Snapshot, error)
	Snapshot(roomID uuid.UUID) (models.Snapshot, error)
}

// Invitations is the rematch coordinator as seen by the gateway.
type Invitations interface {
	Propose(ctx context.Context, roomID uuid.UUID, fromUserID string) (models.Invitation, error)
	Accept(ctx context.Context, invitationID uuid.UUID, userID string) (models.Invitation, models.Snapshot, error)
	Decline(ctx context.Context, invitationID uuid.UUID, userID string) (models.Invitation, error)
	Block(ctx context.Context, invitationID uuid.UUID, userID string) (models.Invitation, error)
	Get(invitationID uuid.UUID) (models.Invitation, error)
}

// PresenceTracker receives transport and activity signals.
type PresenceTracker interface {
	Connect(ctx context.Context, roomID uuid.UUID, userID string)
	Activity(ctx context.Context, roomID uuid.UUID, userID string)
	Hint(ctx context.Context, roomID uuid.UUID, userID string, hint presence.Hint)
	Disconnect(ctx context.Context, roomID uuid.UUID, userID string)
}

// CreateRoomInput is a room creation request. The caller is always seated first and
// becomes the host.
type CreateRoomInput struct {
	ParticipantIDs []string `json:"participant_ids"`
	Open           bool     `json:"open"`
	MinPlayers     int      `json:"min_players,omitempty"`
	MaxPlayers     int      `json:"max_players,omitempty"`
}

// Service implements every gateway operation independent of transport. Each call
// resolves the caller from its token first.
type Service struct {
	store       RoomStore
	invitations Invitations
	presence    PresenceTracker
	identities  auth.IdentityResolver
}

func NewService(store RoomStore, invitations Invitations, tracker PresenceTracker, identities auth.IdentityResolver) *Service {
	return &Service{
		store:       store,
		invitations: invitations,
		presence:    tracker,
		identities:  identities,
	}
}

// Authenticate resolves a token to a user id.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	userID, err := s.identities.ResolveIdentity(ctx, token)
	if err != nil {
		if !errors.Is(err, auth.ErrUnauthenticated) {
			err = fmt.Errorf("%w: %w", auth.ErrUnauthenticated, err)
		}
		return "", err
	}
	return userID, nil
}

// member returns the snapshot of a room the caller belongs to.
func (s *Service) member(roomID uuid.UUID, userID string) (models.Snapshot, error) {
	snap, err := s.store.Snapshot(roomID)
	if err != nil {
		return models.Snapshot{}, err
	}
	if !snap.HasParticipant(userID) {
		return models.Snapshot{}, fmt.Errorf("%w: %s in room %s", session.ErrNotParticipant, userID, roomID)
	}
	return snap, nil
}

func (s *Service) CreateRoom(ctx context.Context, token string, in CreateRoomInput) (models.Snapshot, error) {
	userID, err := s.Authenticate(ctx, token)
	if err != nil {
		return models.Snapshot{}, err
	}

	ids := append([]string{userID}, lo.Without(in.ParticipantIDs, userID)...)
	snap, err := s.store.CreateRoom(ctx, session.CreateRoomRequest{
		ParticipantIDs: ids,
		Open:           in.Open,
		MinPlayers:     in.MinPlayers,
		MaxPlayers:     in.MaxPlayers,
	})
	if err != nil {
		return models.Snapshot{}, err
	}

	log.Info().
		Str("room_id", snap.RoomID.String()).
		Str("user_id", userID).
		Int("participants", len(snap.Participants)).
		Str("phase", string(snap.Phase)).
		Msg("room created")
	return snap, nil
}

// Join adds the caller to a waiting room, or returns the current snapshot when the
// caller is already a member.
func (s *Service) Join(ctx context.Context, token string, roomID uuid.UUID) (models.Snapshot, error) {
	userID, err := s.Authenticate(ctx, token)
	if err != nil {
		return models.Snapshot{}, err
	}
	return s.store.Join(ctx, roomID, userID)
}

func (s *Service) Leave(ctx context.Context, token string, roomID uuid.UUID) (models.Snapshot, error) {
	userID, err := s.Authenticate(ctx, token)
	if err != nil {
		return models.Snapshot{}, err
	}
	if _, err := s.member(roomID, userID); err != nil {
		return models.Snapshot{}, err
	}
	return s.store.Leave(ctx, roomID, userID)
}

func (s *Service) Start(ctx context.Context, token string, roomID uuid.UUID, expectedVersion int64) (models.Snapshot, error) {
	userID, err := s.Authenticate(ctx, token)
	if err != nil {
		return models.Snapshot{}, err
	}
	return s.store.StartRoom(ctx, roomID, userID, expectedVersion)
}

// SubmitAction applies a turn action for the caller. A submission counts as presence
// activity whether or not it is accepted.
func (s *Service) SubmitAction(ctx context.Context, token string, roomID uuid.UUID, expectedVersion int64, action models.Action) (models.Snapshot, error) {
	userID, err := s.Authenticate(ctx, token)
	if err != nil {
		return models.Snapshot{}, err
	}
	return s.submit(ctx, roomID, userID, expectedVersion, action)
}

func (s *Service) submit(ctx context.Context, roomID uuid.UUID, userID string, expectedVersion int64, action models.Action) (models.Snapshot, error) {
	if _, err := s.member(roomID, userID); err != nil {
		return models.Snapshot{}, err
	}
	if action.Type == "" {
		return models.Snapshot{}, fmt.Errorf("%w: action type is required", ErrBadRequest)
	}
	s.presence.Activity(ctx, roomID, userID)

	snap, err := s.store.ApplyAction(ctx, session.ApplyRequest{
		RoomID:          roomID,
		ActorID:         userID,
		ExpectedVersion: expectedVersion,
		Action:          action,
		Origin:          models.OriginPlayer,
	})
	if err != nil {
		log.Debug().
			Err(err).
			Str("room_id", roomID.String()).
			Str("user_id", userID).
			Int64("version", expectedVersion).
			Msg("action rejected")
		return models.Snapshot{}, err
	}
	return snap, nil
}

// Activity records a client activity hint.
func (s *Service) Activity(ctx context.Context, token string, roomID uuid.UUID, hint presence.Hint) error {
	userID, err := s.Authenticate(ctx, token)
	if err != nil {
		return err
	}
	return s.activity(ctx, roomID, userID, hint)
}

func (s *Service) activity(ctx context.Context, roomID uuid.UUID, userID string, hint presence.Hint) error {
	if _, err := s.member(roomID, userID); err != nil {
		return err
	}
	switch hint {
	case presence.HintActive, presence.HintIdle:
	case "":
		hint = presence.HintActive
	default:
		return fmt.Errorf("%w: unknown hint %q", ErrBadRequest, hint)
	}
	s.presence.Hint(ctx, roomID, userID, hint)
	return nil
}

// Resync returns the full current snapshot to a member.
func (s *Service) Resync(ctx context.Context, token string, roomID uuid.UUID) (models.Snapshot, error) {
	userID, err := s.Authenticate(ctx, token)
	if err != nil {
		return models.Snapshot{}, err
	}
	return s.member(roomID, userID)
}

// End closes a room. Only the host may end it.
func (s *Service) End(ctx context.Context, token string, roomID uuid.UUID, reason string) (models.Snapshot, error) {
	userID, err := s.Authenticate(ctx, token)
	if err != nil {
		return models.Snapshot{}, err
	}
	snap, err := s.member(roomID, userID)
	if err != nil {
		return models.Snapshot{}, err
	}
	if snap.Participants[0].UserID != userID {
		return models.Snapshot{}, session.ErrNotHost
	}
	if reason == "" {
		reason = "host_closed"
	}
	return s.store.EndRoom(ctx, roomID, reason)
}

// Invite proposes a rematch to the other participants of an ended room.
func (s *Service) Invite(ctx context.Context, token string, roomID uuid.UUID) (models.Invitation, error) {
	userID, err := s.Authenticate(ctx, token)
	if err != nil {
		return models.Invitation{}, err
	}
	return s.invitations.Propose(ctx, roomID, userID)
}

func (s *Service) AcceptInvitation(ctx context.Context, token string, invitationID uuid.UUID) (models.Invitation, models.Snapshot, error) {
	userID, err := s.Authenticate(ctx, token)
	if err != nil {
		return models.Invitation{}, models.Snapshot{}, err
	}
	return s.invitations.Accept(ctx, invitationID, userID)
}

func (s *Service) DeclineInvitation(ctx context.Context, token string, invitationID uuid.UUID) (models.Invitation, error) {
	userID, err := s.Authenticate(ctx, token)
	if err != nil {
		return models.Invitation{}, err
	}
	return s.invitations.Decline(ctx, invitationID, userID)
}

// BlockRematch refuses the invitation and stops its sender from inviting the caller again.
func (s *Service) BlockRematch(ctx context.Context, token string, invitationID uuid.UUID) (models.Invitation, error) {
	userID, err := s.Authenticate(ctx, token)
	if err != nil {
		return models.Invitation{}, err
	}
	return s.invitations.Block(ctx, invitationID, userID)
}

// GetInvitation returns an invitation to its sender or one of its invitees.
func (s *Service) GetInvitation(ctx context.Context, token string, invitationID uuid.UUID) (models.Invitation, error) {
	userID, err := s.Authenticate(ctx, token)
	if err != nil {
		return models.Invitation{}, err
	}
	inv, err := s.invitations.Get(invitationID)
	if err != nil {
		return models.Invitation{}, err
	}
	isInvitee := lo.ContainsBy(inv.Invitees, func(invitee models.Invitee) bool {
		return invitee.UserID == userID
	})
	if inv.FromUserID == userID || isInvitee {
		return inv, nil
	}
	return models.Invitation{}, fmt.Errorf("%w: %s", rematch.ErrNotInvitee, invitationID)
}
