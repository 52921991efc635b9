package accreditation

import (
	"context"

	"vote-app-client/internal/domain/room"
	"vote-app-client/internal/platform/apperr"
)

type RosterAPI interface {
	AddAccreditedVoters(ctx context.Context, code string, voters []room.VoterInput) error
	AccreditedVoters(ctx context.Context, code string) ([]room.AccreditedVoter, error)
}

var ErrEmptyRoster = apperr.Validation("roster_empty", "Please add at least one voter")

// Roster is the creator-side view of a room's accredited voters.
type Roster struct {
	api  RosterAPI
	code string
}

func NewRoster(api RosterAPI, code string) *Roster {
	return &Roster{api: api, code: code}
}

// Add submits the complete rows of voters and returns what was sent. Rows
// missing a name or a phone number are dropped.
func (r *Roster) Add(ctx context.Context, voters []room.VoterInput) ([]room.VoterInput, error) {
	valid := room.CompleteVoters(voters)
	if len(valid) == 0 {
		return nil, ErrEmptyRoster
	}
	if err := r.api.AddAccreditedVoters(ctx, r.code, valid); err != nil {
		return nil, err
	}
	log.Info().Str("room", r.code).Int("count", len(valid)).Msg("accredited voters added")
	return valid, nil
}

func (r *Roster) List(ctx context.Context) ([]room.AccreditedVoter, error) {
	return r.api.AccreditedVoters(ctx, r.code)
}

// Summary counts roster progress.
type Summary struct {
	Total    int
	Verified int
	Voted    int
}

func Summarize(voters []room.AccreditedVoter) Summary {
	s := Summary{Total: len(voters)}
	for _, v := range voters {
		if v.OTPVerified {
			s.Verified++
		}
		if v.HasVoted {
			s.Voted++
		}
	}
	return s
}
