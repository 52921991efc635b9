package room

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vote-app-client/internal/metrics"
	"vote-app-client/internal/platform/apperr"
	"vote-app-client/internal/platform/notify"
)

var (
	ErrViewClosed    = apperr.Validation("view_closed", "room view is closed")
	ErrNotLoaded     = apperr.Validation("room_not_loaded", "room is not loaded yet")
	ErrInvalidOption = apperr.Validation("invalid_option", "Invalid option selected")
	ErrOptionNoID    = apperr.Validation("option_without_id", "Invalid option selected")
	ErrVoteInFlight  = apperr.Validation("vote_in_flight", "a vote is already being submitted")
	ErrVoteRecorded  = apperr.Validation("vote_recorded", "your vote for this room is already recorded")
	ErrRoomExpired   = apperr.Validation("room_expired", "voting has ended for this room")
)

const DefaultVoteTimeout = 15 * time.Second

var roomLog = zerolog.Nop()

func SetLogger(l zerolog.Logger) {
	roomLog = l
}

type ReconcilerConfig struct {
	// ViewerEmail is the signed-in user's email, empty for anonymous voters.
	ViewerEmail string
	VoteTimeout time.Duration
	Now         func() time.Time
}

// Reconciler owns the view model of one open room. It merges the REST
// snapshot, vote-updated pushes and the outcome of local vote submissions.
type Reconciler struct {
	api         API
	code        string
	viewerEmail string
	voteTimeout time.Duration
	now         func() time.Time

	mu          sync.Mutex
	room        *Room
	hasVoted    bool
	voting      bool
	liveVisible bool
	liveTallies []int
	lastErr     string
	closed      bool

	changes notify.Listeners[State]
}

func NewReconciler(api API, code string, cfg ReconcilerConfig) *Reconciler {
	if cfg.VoteTimeout <= 0 {
		cfg.VoteTimeout = DefaultVoteTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{
		api:         api,
		code:        code,
		viewerEmail: cfg.ViewerEmail,
		voteTimeout: cfg.VoteTimeout,
		now:         cfg.Now,
	}
}

func (r *Reconciler) Code() string {
	return r.code
}

// State is an immutable snapshot of the view model.
type State struct {
	Code        string
	Room        *Room
	HasVoted    bool
	Voting      bool
	LiveVisible bool
	LiveTallies []int
	Expired     bool
	IsOwner     bool
	Err         string
}

func (s State) Loaded() bool {
	return s.Room != nil
}

// ShowResults hides counts from ordinary voters while a room is open unless
// the live feed has reached them.
func (s State) ShowResults() bool {
	return s.Expired || s.LiveVisible
}

func (s State) DisplayOptions() []DisplayOption {
	if s.Room == nil {
		return nil
	}
	return s.Room.Display(s.ShowResults())
}

// CanVote reports whether the vote action is offered, before any
// accreditation requirement is considered.
func (s State) CanVote() bool {
	return s.Room != nil && !s.Expired && !s.HasVoted && !s.Voting
}

func (r *Reconciler) View() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked()
}

// Subscribe registers fn for every state change.
func (r *Reconciler) Subscribe(fn func(State)) func() {
	return r.changes.Add(fn)
}

// Load fetches the snapshot. Room owners also get an attempt at the live
// tallies while the room is open.
func (r *Reconciler) Load(ctx context.Context) error {
	if r.isClosed() {
		return ErrViewClosed
	}

	rm, err := r.api.GetRoom(ctx, r.code)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrViewClosed
	}
	if err != nil {
		r.lastErr = err.Error()
		r.mu.Unlock()
		r.publish()
		return err
	}
	r.room = rm.Clone()
	r.lastErr = ""
	refresh := r.ownerLocked() && !r.room.Expired(r.now())
	r.mu.Unlock()
	r.publish()

	roomLog.Debug().Str("room", r.code).Int("total_votes", rm.TotalVotes).Msg("room snapshot loaded")

	if refresh {
		r.refreshTallies(ctx)
	}
	return nil
}

// ApplyEvent folds a vote-updated push into the room. Events for other rooms
// are ignored and reported as not applied.
func (r *Reconciler) ApplyEvent(ev VoteUpdateEvent) bool {
	r.mu.Lock()
	if r.closed || ev.RoomID != r.code {
		r.mu.Unlock()
		return false
	}
	r.liveTallies = append([]int(nil), ev.Tallies...)
	r.liveVisible = true
	if r.room != nil {
		r.room.ApplyTallies(ev.Tallies, ev.TotalVotes)
	}
	r.mu.Unlock()
	r.publish()

	roomLog.Debug().
		Str("room", ev.RoomID).
		Int("total_votes", ev.TotalVotes).
		Str("option", ev.OptionID).
		Msg("vote update applied")
	return true
}

// CastVote submits a vote for the option at optionIndex. Precondition
// failures are returned before any network call. Tallies are left alone on
// success; the push channel or the next snapshot carries the new counts.
func (r *Reconciler) CastVote(ctx context.Context, optionIndex int, phoneNumber string) error {
	r.mu.Lock()
	optionID, err := r.beginVoteLocked(optionIndex)
	if err != nil {
		r.lastErr = err.Error()
		r.mu.Unlock()
		metrics.IncVote("rejected")
		r.publish()
		return err
	}
	owner := r.ownerLocked()
	r.mu.Unlock()
	r.publish()

	voteCtx, cancel := context.WithTimeout(ctx, r.voteTimeout)
	err = r.api.Vote(voteCtx, r.code, optionID, phoneNumber)
	cancel()

	r.mu.Lock()
	r.voting = false
	if r.closed {
		r.mu.Unlock()
		roomLog.Debug().Str("room", r.code).Msg("vote settled after view closed, result discarded")
		return err
	}
	switch {
	case err == nil:
		r.hasVoted = true
		r.lastErr = ""
		metrics.IncVote("ok")
	case apperr.IsAlreadyVoted(err):
		r.hasVoted = true
		r.lastErr = err.Error()
		metrics.IncVote("already_voted")
	default:
		r.lastErr = err.Error()
		metrics.IncVote("error")
	}
	refresh := err == nil && owner && !r.room.Expired(r.now())
	r.mu.Unlock()
	r.publish()

	if refresh {
		r.refreshTallies(ctx)
	}
	return err
}

// Close detaches the view. Later snapshots, events and vote results are
// dropped.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.changes.Clear()
}

func (r *Reconciler) beginVoteLocked(optionIndex int) (string, error) {
	switch {
	case r.closed:
		return "", ErrViewClosed
	case r.room == nil:
		return "", ErrNotLoaded
	case optionIndex < 0 || optionIndex >= len(r.room.Options):
		return "", ErrInvalidOption
	case r.room.Options[optionIndex].ID == "":
		return "", ErrOptionNoID
	case r.voting:
		return "", ErrVoteInFlight
	case r.hasVoted:
		return "", ErrVoteRecorded
	case r.room.Expired(r.now()):
		return "", ErrRoomExpired
	}
	r.voting = true
	return r.room.Options[optionIndex].ID, nil
}

func (r *Reconciler) refreshTallies(ctx context.Context) {
	tallies, err := r.api.LiveTallies(ctx, r.code)
	if err != nil {
		roomLog.Debug().Err(err).Str("room", r.code).Msg("live tallies unavailable")
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.liveTallies = append([]int(nil), tallies...)
	r.liveVisible = true
	r.mu.Unlock()
	r.publish()
}

func (r *Reconciler) ownerLocked() bool {
	return r.room != nil && r.room.CreatedBy(r.viewerEmail)
}

func (r *Reconciler) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Reconciler) stateLocked() State {
	s := State{
		Code:        r.code,
		Room:        r.room.Clone(),
		HasVoted:    r.hasVoted,
		Voting:      r.voting,
		LiveVisible: r.liveVisible,
		LiveTallies: append([]int(nil), r.liveTallies...),
		IsOwner:     r.ownerLocked(),
		Err:         r.lastErr,
	}
	if r.room != nil {
		s.Expired = r.room.Expired(r.now())
	}
	return s
}

func (r *Reconciler) publish() {
	r.changes.Emit(r.View())
}
