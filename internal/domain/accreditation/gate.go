package accreditation

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"vote-app-client/internal/domain/room"
	"vote-app-client/internal/platform/apperr"
	"vote-app-client/internal/platform/notify"
)

type State string

const (
	Unverified   State = "unverified"
	OTPRequested State = "otp-requested"
	Verified     State = "verified"
)

const DefaultResendInterval = 30 * time.Second

var otpPattern = regexp.MustCompile(`^[0-9]{6}$`)

var (
	ErrPhoneRequired   = apperr.Validation("phone_required", "Please enter your phone number")
	ErrCodeFormat      = apperr.Validation("otp_format", "Please enter the 6-digit code")
	ErrNoCodeRequested = apperr.Validation("otp_not_requested", "Request a code for this phone number first")
	ErrAlreadyVerified = apperr.Validation("already_verified", "Phone number already verified")
)

var log = zerolog.Nop()

func SetLogger(l zerolog.Logger) {
	log = l
}

// OTPAPI is the slice of the REST client the gate needs.
type OTPAPI interface {
	RequestOTP(ctx context.Context, code, phoneNumber string) error
	VerifyOTP(ctx context.Context, code, phoneNumber, otp string) (voterName string, err error)
}

// Status is a snapshot of the gate.
type Status struct {
	State     State
	Phone     string
	VoterName string
	Err       string
}

// Gate tracks one viewer's phone verification for one room. Verification
// lasts for the life of the gate; reopening the room starts a new one.
type Gate struct {
	api     OTPAPI
	code    string
	limiter *rate.Limiter
	now     func() time.Time

	mu        sync.Mutex
	state     State
	phone     string
	voterName string
	lastErr   string
	busy      bool

	changes notify.Listeners[Status]
}

func NewGate(api OTPAPI, code string, resendInterval time.Duration) *Gate {
	if resendInterval <= 0 {
		resendInterval = DefaultResendInterval
	}
	return &Gate{
		api:     api,
		code:    code,
		limiter: rate.NewLimiter(rate.Every(resendInterval), 1),
		now:     time.Now,
		state:   Unverified,
	}
}

func (g *Gate) Subscribe(fn func(Status)) func() {
	return g.changes.Add(fn)
}

// RequestCode asks the server to send a one-time code to phone. It is also
// the resend path; repeated requests are throttled to one per resend
// interval and a failed request does not use up the allowance.
func (g *Gate) RequestCode(ctx context.Context, phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return g.fail(ErrPhoneRequired)
	}

	g.mu.Lock()
	if g.state == Verified {
		g.mu.Unlock()
		return ErrAlreadyVerified
	}
	g.mu.Unlock()

	now := g.now()
	res := g.limiter.ReserveN(now, 1)
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return g.fail(apperr.Validation("otp_throttled",
			fmt.Sprintf("Please wait %ds before requesting another code", int(wait.Round(time.Second).Seconds()))))
	}

	if err := g.api.RequestOTP(ctx, g.code, phone); err != nil {
		res.CancelAt(now)
		log.Debug().Err(err).Str("room", g.code).Msg("otp request failed")
		return g.fail(err)
	}

	g.mu.Lock()
	if g.state != Verified {
		g.state = OTPRequested
		g.phone = phone
	}
	g.lastErr = ""
	g.mu.Unlock()
	g.publish()

	log.Info().Str("room", g.code).Msg("otp requested")
	return nil
}

// VerifyCode submits otp for phone and, on success, returns the roster name
// the server matched. A failed attempt keeps the gate waiting for a code.
func (g *Gate) VerifyCode(ctx context.Context, phone, otp string) (string, error) {
	phone = strings.TrimSpace(phone)
	otp = strings.TrimSpace(otp)

	g.mu.Lock()
	switch {
	case g.state == Verified:
		g.mu.Unlock()
		return "", ErrAlreadyVerified
	case phone == "":
		g.mu.Unlock()
		return "", g.fail(ErrPhoneRequired)
	case !otpPattern.MatchString(otp):
		g.mu.Unlock()
		return "", g.fail(ErrCodeFormat)
	case g.state != OTPRequested || g.phone != phone:
		g.mu.Unlock()
		return "", g.fail(ErrNoCodeRequested)
	case g.busy:
		g.mu.Unlock()
		return "", apperr.Validation("otp_in_flight", "Verification already in progress")
	}
	g.busy = true
	g.mu.Unlock()

	name, err := g.api.VerifyOTP(ctx, g.code, phone, otp)

	g.mu.Lock()
	g.busy = false
	if err != nil {
		g.lastErr = err.Error()
		g.mu.Unlock()
		g.publish()
		return "", err
	}
	g.state = Verified
	g.phone = phone
	g.voterName = name
	g.lastErr = ""
	g.mu.Unlock()
	g.publish()

	log.Info().Str("room", g.code).Str("voter", name).Msg("phone verified")
	return name, nil
}

func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusLocked()
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// VerifiedPhone is the number to submit with a vote, empty until verified.
func (g *Gate) VerifiedPhone() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Verified {
		return ""
	}
	return g.phone
}

func (g *Gate) VoterName() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.voterName
}

// VoteAllowed reports whether the vote action is enabled as far as
// accreditation is concerned. The authenticated creator of a room may always
// vote in it.
func (g *Gate) VoteAllowed(rm *room.Room, authenticated, isCreator bool) bool {
	if rm == nil || !rm.RequireAccreditation {
		return true
	}
	if authenticated && isCreator {
		return true
	}
	return g.State() == Verified
}

// BlockingPrompt reports whether an anonymous viewer must verify before
// seeing the ballot as actionable.
func (g *Gate) BlockingPrompt(rm *room.Room, authenticated bool) bool {
	if rm == nil || !rm.RequireAccreditation || authenticated {
		return false
	}
	return g.State() != Verified
}

func (g *Gate) fail(err error) error {
	g.mu.Lock()
	g.lastErr = err.Error()
	g.mu.Unlock()
	g.publish()
	return err
}

func (g *Gate) statusLocked() Status {
	return Status{State: g.state, Phone: g.phone, VoterName: g.voterName, Err: g.lastErr}
}

func (g *Gate) publish() {
	g.changes.Emit(g.Status())
}
