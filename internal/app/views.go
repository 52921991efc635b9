package app

import (
	"context"
	"sync"

	"vote-app-client/internal/domain/accreditation"
	"vote-app-client/internal/domain/room"
	"vote-app-client/internal/platform/apperr"
)

var (
	ErrVerificationRequired = apperr.Validation("verification_required", "Verify your phone number to vote in this room")
	ErrSignInRequired       = apperr.Validation("sign_in_required", "Please log in to continue")
)

// RoomView is one open room: its reconciled state, the viewer's
// accreditation gate and, for the creator, the roster. The view holds a
// realtime subscription until Close.
type RoomView struct {
	Code   string
	Room   *room.Reconciler
	Gate   *accreditation.Gate
	Roster *accreditation.Roster

	app         *App
	unsubscribe func()
	closeOnce   sync.Once
}

// OpenRoom subscribes to the room's updates and loads its snapshot. Updates
// that arrive before the snapshot are kept.
func (a *App) OpenRoom(ctx context.Context, code string) (*RoomView, error) {
	user, _ := a.Session.User()
	rec := room.NewReconciler(a.API, code, room.ReconcilerConfig{
		ViewerEmail: user.Email,
		VoteTimeout: a.Config.VoteTimeout,
	})
	v := &RoomView{
		Code:   code,
		Room:   rec,
		Gate:   accreditation.NewGate(a.API, code, a.Config.OTPResendInterval),
		Roster: accreditation.NewRoster(a.API, code),
		app:    a,
	}
	v.unsubscribe = a.Channel.Subscribe(func(ev room.VoteUpdateEvent) {
		rec.ApplyEvent(ev)
	})
	a.Channel.JoinRoom(code)

	if err := rec.Load(ctx); err != nil {
		v.Close()
		return nil, err
	}
	return v, nil
}

func (v *RoomView) State() room.State {
	return v.Room.View()
}

// CanVote combines the room's own rules with the accreditation gate.
func (v *RoomView) CanVote() bool {
	st := v.Room.View()
	return st.CanVote() && v.Gate.VoteAllowed(st.Room, v.app.Session.IsAuthenticated(), st.IsOwner)
}

// NeedsVerification is true while an anonymous viewer of an accreditation
// room has not verified a phone number.
func (v *RoomView) NeedsVerification() bool {
	return v.Gate.BlockingPrompt(v.Room.View().Room, v.app.Session.IsAuthenticated())
}

// Vote casts a ballot for the option at index, sending the verified phone
// number when there is one.
func (v *RoomView) Vote(ctx context.Context, index int) error {
	st := v.Room.View()
	if st.Room != nil && !v.Gate.VoteAllowed(st.Room, v.app.Session.IsAuthenticated(), st.IsOwner) {
		return ErrVerificationRequired
	}
	return v.Room.CastVote(ctx, index, v.Gate.VerifiedPhone())
}

func (v *RoomView) InviteURL(base string) string {
	return InviteURL(base, v.Code)
}

func (v *RoomView) Close() {
	v.closeOnce.Do(func() {
		v.unsubscribe()
		v.app.Channel.LeaveRoom(v.Code)
		v.Room.Close()
	})
}

// DashboardView is the signed-in user's room list kept live over the
// realtime channel. Created rooms are joined and deleted ones left.
type DashboardView struct {
	*room.Dashboard

	app         *App
	unsubscribe []func()

	mu     sync.Mutex
	joined map[string]bool
	closed bool
}

func (a *App) OpenDashboard(ctx context.Context) (*DashboardView, error) {
	if !a.Session.IsAuthenticated() {
		return nil, ErrSignInRequired
	}
	d := room.NewDashboard(a.API, nil)
	v := &DashboardView{Dashboard: d, app: a, joined: make(map[string]bool)}
	v.unsubscribe = append(v.unsubscribe,
		a.Channel.Subscribe(func(ev room.VoteUpdateEvent) { d.ApplyEvent(ev) }),
		d.Subscribe(func(string) { v.syncJoins() }),
	)

	if err := d.Load(ctx); err != nil {
		v.Close()
		return nil, err
	}
	return v, nil
}

func (v *DashboardView) syncJoins() {
	codes := v.Codes()

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	want := make(map[string]bool, len(codes))
	for _, code := range codes {
		want[code] = true
		if !v.joined[code] {
			v.joined[code] = true
			v.app.Channel.JoinRoom(code)
		}
	}
	for code := range v.joined {
		if !want[code] {
			delete(v.joined, code)
			v.app.Channel.LeaveRoom(code)
		}
	}
}

func (v *DashboardView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	for code := range v.joined {
		v.app.Channel.LeaveRoom(code)
	}
	v.joined = nil
	v.mu.Unlock()

	for _, fn := range v.unsubscribe {
		fn()
	}
}
