package accreditation

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vote-app-client/internal/domain/room"
	"vote-app-client/internal/platform/apperr"
)

type fakeOTPAPI struct {
	mu         sync.Mutex
	requests   []string
	verifies   int
	validCode  string
	names      map[string]string
	requestErr error
}

func newFakeOTPAPI() *fakeOTPAPI {
	return &fakeOTPAPI{
		validCode: "123456",
		names:     map[string]string{"+15550100": "Ada Lovelace"},
	}
}

func (f *fakeOTPAPI) RequestOTP(ctx context.Context, code, phone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requestErr != nil {
		return f.requestErr
	}
	f.requests = append(f.requests, phone)
	return nil
}

func (f *fakeOTPAPI) VerifyOTP(ctx context.Context, code, phone, otp string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifies++
	if otp != f.validCode {
		return "", apperr.FromStatus(http.StatusBadRequest, "", "Invalid or expired OTP", false)
	}
	return f.names[phone], nil
}

func accreditedRoom() *room.Room {
	return &room.Room{
		Code:                 "r1",
		RequireAccreditation: true,
		Options:              []room.Option{{ID: "a", Text: "Yes"}, {ID: "b", Text: "No"}},
	}
}

func TestVerifyEnablesVoting(t *testing.T) {
	api := newFakeOTPAPI()
	g := NewGate(api, "r1", time.Minute)
	rm := accreditedRoom()

	assert.True(t, g.BlockingPrompt(rm, false))
	assert.False(t, g.VoteAllowed(rm, false, false))

	require.NoError(t, g.RequestCode(context.Background(), " +15550100 "))
	assert.Equal(t, OTPRequested, g.State())
	assert.False(t, g.VoteAllowed(rm, false, false))

	name, err := g.VerifyCode(context.Background(), "+15550100", "123456")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", name)
	assert.Equal(t, Verified, g.State())
	assert.Equal(t, "+15550100", g.VerifiedPhone())
	assert.Equal(t, "Ada Lovelace", g.VoterName())
	assert.True(t, g.VoteAllowed(rm, false, false))
	assert.False(t, g.BlockingPrompt(rm, false))
}

func TestOpenRoomAlwaysAllowed(t *testing.T) {
	g := NewGate(newFakeOTPAPI(), "r1", time.Minute)
	rm := accreditedRoom()
	rm.RequireAccreditation = false

	assert.True(t, g.VoteAllowed(rm, false, false))
	assert.False(t, g.BlockingPrompt(rm, false))
	assert.Empty(t, g.VerifiedPhone())
}

func TestCreatorBypassesVerification(t *testing.T) {
	g := NewGate(newFakeOTPAPI(), "r1", time.Minute)
	rm := accreditedRoom()

	assert.True(t, g.VoteAllowed(rm, true, true))
	assert.False(t, g.VoteAllowed(rm, true, false), "signed-in non-creator still needs a code")
	assert.False(t, g.VoteAllowed(rm, false, true), "creator flag without a session counts for nothing")
	assert.False(t, g.BlockingPrompt(rm, true))
}

func TestRequestCodeValidation(t *testing.T) {
	api := newFakeOTPAPI()
	g := NewGate(api, "r1", time.Minute)

	err := g.RequestCode(context.Background(), "   ")
	require.ErrorIs(t, err, ErrPhoneRequired)
	assert.Equal(t, Unverified, g.State())
	assert.Equal(t, "Please enter your phone number", g.Status().Err)
	assert.Empty(t, api.requests)
}

func TestRequestFailureKeepsState(t *testing.T) {
	api := newFakeOTPAPI()
	api.requestErr = apperr.FromStatus(http.StatusForbidden, "", "Phone number is not on the roster", false)
	g := NewGate(api, "r1", time.Minute)

	err := g.RequestCode(context.Background(), "+15550199")
	require.Error(t, err)
	assert.Equal(t, "Phone number is not on the roster", err.Error())
	assert.Equal(t, Unverified, g.State())

	api.requestErr = nil
	require.NoError(t, g.RequestCode(context.Background(), "+15550100"), "a failed request must not use up the resend allowance")
}

func TestResendIsThrottled(t *testing.T) {
	api := newFakeOTPAPI()
	g := NewGate(api, "r1", 30*time.Second)
	clock := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return clock }

	require.NoError(t, g.RequestCode(context.Background(), "+15550100"))

	clock = clock.Add(10 * time.Second)
	err := g.RequestCode(context.Background(), "+15550100")
	require.Error(t, err)
	assert.Equal(t, "otp_throttled", apperr.FromError(err).Code)
	assert.Contains(t, err.Error(), "20s")

	clock = clock.Add(20 * time.Second)
	require.NoError(t, g.RequestCode(context.Background(), "+15550100"))
	assert.Len(t, api.requests, 2)
}

func TestVerifyCodeRules(t *testing.T) {
	api := newFakeOTPAPI()
	g := NewGate(api, "r1", time.Minute)

	_, err := g.VerifyCode(context.Background(), "+15550100", "123456")
	assert.ErrorIs(t, err, ErrNoCodeRequested)

	require.NoError(t, g.RequestCode(context.Background(), "+15550100"))

	for _, bad := range []string{"", "12345", "1234567", "12a456"} {
		_, err := g.VerifyCode(context.Background(), "+15550100", bad)
		assert.ErrorIs(t, err, ErrCodeFormat, "code %q", bad)
	}
	_, err = g.VerifyCode(context.Background(), "+15550111", "123456")
	assert.ErrorIs(t, err, ErrNoCodeRequested, "different phone")
	assert.Zero(t, api.verifies)

	_, err = g.VerifyCode(context.Background(), "+15550100", "000000")
	require.Error(t, err)
	assert.Equal(t, OTPRequested, g.State())
	assert.Equal(t, "Invalid or expired OTP", g.Status().Err)
	assert.Equal(t, 1, api.verifies)
}

func TestVerifiedIsTerminal(t *testing.T) {
	api := newFakeOTPAPI()
	g := NewGate(api, "r1", time.Millisecond)
	require.NoError(t, g.RequestCode(context.Background(), "+15550100"))
	_, err := g.VerifyCode(context.Background(), "+15550100", "123456")
	require.NoError(t, err)

	assert.ErrorIs(t, g.RequestCode(context.Background(), "+15550100"), ErrAlreadyVerified)
	_, err = g.VerifyCode(context.Background(), "+15550100", "123456")
	assert.ErrorIs(t, err, ErrAlreadyVerified)
	assert.Equal(t, Verified, g.State())
}

func TestStatusEvents(t *testing.T) {
	g := NewGate(newFakeOTPAPI(), "r1", time.Minute)
	var states []State
	unsubscribe := g.Subscribe(func(s Status) { states = append(states, s.State) })
	defer unsubscribe()

	require.NoError(t, g.RequestCode(context.Background(), "+15550100"))
	_, err := g.VerifyCode(context.Background(), "+15550100", "123456")
	require.NoError(t, err)

	assert.Equal(t, []State{OTPRequested, Verified}, states)
}

type fakeRosterAPI struct {
	added  [][]room.VoterInput
	voters []room.AccreditedVoter
	err    error
}

func (f *fakeRosterAPI) AddAccreditedVoters(ctx context.Context, code string, voters []room.VoterInput) error {
	if f.err != nil {
		return f.err
	}
	f.added = append(f.added, voters)
	return nil
}

func (f *fakeRosterAPI) AccreditedVoters(ctx context.Context, code string) ([]room.AccreditedVoter, error) {
	return f.voters, f.err
}

func TestRosterAdd(t *testing.T) {
	api := &fakeRosterAPI{}
	r := NewRoster(api, "r1")

	_, err := r.Add(context.Background(), []room.VoterInput{{Name: "Ada"}, {PhoneNumber: "+1"}})
	require.ErrorIs(t, err, ErrEmptyRoster)
	assert.Empty(t, api.added)

	sent, err := r.Add(context.Background(), []room.VoterInput{
		{Name: "Ada", PhoneNumber: "+15550100"},
		{Name: "", PhoneNumber: ""},
	})
	require.NoError(t, err)
	assert.Equal(t, []room.VoterInput{{Name: "Ada", PhoneNumber: "+15550100"}}, sent)
	require.Len(t, api.added, 1)

	api.err = errors.New("boom")
	_, err = r.Add(context.Background(), sent)
	assert.Error(t, err)
}

func TestRosterSummary(t *testing.T) {
	api := &fakeRosterAPI{voters: []room.AccreditedVoter{
		{Name: "Ada", PhoneNumber: "+1", OTPVerified: true, HasVoted: true},
		{Name: "Bob", PhoneNumber: "+2", OTPVerified: true},
		{Name: "Cy", PhoneNumber: "+3"},
	}}
	voters, err := NewRoster(api, "r1").List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 3, Verified: 2, Voted: 1}, Summarize(voters))
}
