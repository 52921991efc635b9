package devserver

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"vote-app-client/internal/domain/room"
	"vote-app-client/internal/domain/session"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrWeakPassword       = errors.New("password too short")
	ErrNameRequired       = errors.New("name required")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidResetToken  = errors.New("invalid reset token")
	ErrRoomNotFound       = errors.New("room not found")
	ErrNotOwner           = errors.New("not the room creator")
	ErrRoomExpired        = errors.New("room expired")
	ErrInvalidOption      = errors.New("option not in room")
	ErrAlreadyVoted       = errors.New("already voted")
	ErrPhoneRequired      = errors.New("phone number required")
	ErrNotAccredited      = errors.New("phone number not accredited")
	ErrNotVerified        = errors.New("phone number not verified")
	ErrOTPInvalid         = errors.New("otp invalid or expired")
	ErrAccreditationOff   = errors.New("room does not require accreditation")
	ErrEmptyRoster        = errors.New("no complete roster rows")
)

type Options struct {
	Now func() time.Time
	// HashCost is the bcrypt cost; zero means bcrypt.DefaultCost.
	HashCost int
	// NewOTP generates one-time codes; zero means six random digits.
	NewOTP func() string
	OTPTTL time.Duration
}

// Voter identifies who is casting a ballot. UserID is empty for anonymous
// viewers, who are keyed by Addr in open rooms.
type Voter struct {
	UserID string
	Email  string
	Addr   string
}

type account struct {
	user session.User
	hash []byte
}

type otpEntry struct {
	code    string
	expires time.Time
}

type roomRecord struct {
	room    room.Room
	ownerID string
	created time.Time
	ballots map[string]int
	roster  []*room.AccreditedVoter
	otps    map[string]otpEntry
}

func (rec *roomRecord) rosterEntry(phone string) *room.AccreditedVoter {
	for _, v := range rec.roster {
		if v.PhoneNumber == phone {
			return v
		}
	}
	return nil
}

// addVoters appends complete rows whose phone is not yet on the roster and
// returns how many were added.
func (rec *roomRecord) addVoters(in []room.VoterInput) int {
	added := 0
	for _, v := range room.CompleteVoters(in) {
		if rec.rosterEntry(v.PhoneNumber) != nil {
			continue
		}
		rec.roster = append(rec.roster, &room.AccreditedVoter{Name: v.Name, PhoneNumber: v.PhoneNumber})
		added++
	}
	return added
}

func (rec *roomRecord) tallies() []int {
	res := make([]int, len(rec.room.Options))
	for i, o := range rec.room.Options {
		res[i] = o.Votes
	}
	return res
}

// Store keeps every account, room, ballot and one-time code in memory.
type Store struct {
	opts Options

	mu       sync.Mutex
	accounts map[string]*account
	rooms    map[string]*roomRecord
	resets   map[string]string
}

func NewStore(opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HashCost == 0 {
		opts.HashCost = bcrypt.DefaultCost
	}
	if opts.NewOTP == nil {
		opts.NewOTP = randomOTP
	}
	if opts.OTPTTL <= 0 {
		opts.OTPTTL = 10 * time.Minute
	}
	return &Store{
		opts:     opts,
		accounts: make(map[string]*account),
		rooms:    make(map[string]*roomRecord),
		resets:   make(map[string]string),
	}
}

func randomOTP() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		panic(fmt.Sprintf("otp source: %v", err))
	}
	return fmt.Sprintf("%06d", n.Int64())
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) Register(email, password, name string) (session.User, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	switch {
	case email == "" || !strings.Contains(email, "@"):
		return session.User{}, ErrInvalidEmail
	case len(password) < session.MinPasswordLength:
		return session.User{}, ErrWeakPassword
	case name == "":
		return session.User{}, ErrNameRequired
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.HashCost)
	if err != nil {
		return session.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.accounts[email]; taken {
		return session.User{}, ErrEmailTaken
	}
	u := session.User{ID: uuid.NewString(), Email: email, Name: name}
	s.accounts[email] = &account{user: u, hash: hash}
	return u, nil
}

func (s *Store) Login(email, password string) (session.User, error) {
	s.mu.Lock()
	acc, ok := s.accounts[normalizeEmail(email)]
	s.mu.Unlock()
	if !ok {
		return session.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		return session.User{}, ErrInvalidCredentials
	}
	return acc.user, nil
}

// ForgotPassword issues a reset token. ok is false for unknown addresses,
// which callers must not reveal.
func (s *Store) ForgotPassword(email string) (token string, ok bool) {
	email = normalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[email]; !exists {
		return "", false
	}
	token = uuid.NewString()
	s.resets[token] = email
	return token, true
}

func (s *Store) ResetPassword(token, newPassword string) error {
	if len(newPassword) < session.MinPasswordLength {
		return ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.opts.HashCost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.resets[token]
	if !ok {
		return ErrInvalidResetToken
	}
	delete(s.resets, token)
	s.accounts[email].hash = hash
	return nil
}

func (s *Store) CreateRoom(owner session.User, req room.CreateRequest) (room.Room, error) {
	now := s.opts.Now()
	req = req.Normalize()
	if err := req.Validate(now); err != nil {
		return room.Room{}, err
	}

	options := make([]room.Option, 0, len(req.Options))
	for _, text := range req.Options {
		options = append(options, room.Option{ID: uuid.NewString(), Text: text})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	code := newRoomCode()
	for s.rooms[code] != nil {
		code = newRoomCode()
	}
	rec := &roomRecord{
		room: room.Room{
			ID:                   uuid.NewString(),
			Code:                 code,
			Title:                req.Title,
			Description:          req.Description,
			Options:              options,
			Deadline:             req.Deadline,
			CreatorEmail:         owner.Email,
			RequireAccreditation: req.RequireAccreditation,
		},
		ownerID: owner.ID,
		created: now,
		ballots: make(map[string]int),
		otps:    make(map[string]otpEntry),
	}
	rec.addVoters(req.AccreditedVoters)
	s.rooms[code] = rec
	return s.snapshotLocked(rec, true), nil
}

func newRoomCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// snapshotLocked renders a room for the wire. The roster is only included
// for the creator.
func (s *Store) snapshotLocked(rec *roomRecord, owner bool) room.Room {
	rm := *rec.room.Clone()
	rm.IsExpired = !s.opts.Now().Before(rm.Deadline)
	rm.TotalVotes = len(rec.ballots)
	rm.VoterCount = len(rec.ballots)
	rm.Tallies = rec.tallies()
	rm.AccreditedVoters = nil
	if owner {
		rm.AccreditedVoters = make([]room.AccreditedVoter, 0, len(rec.roster))
		for _, v := range rec.roster {
			rm.AccreditedVoters = append(rm.AccreditedVoters, *v)
		}
	}
	return rm
}

func (s *Store) Room(code, viewerID string) (room.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[code]
	if !ok {
		return room.Room{}, ErrRoomNotFound
	}
	return s.snapshotLocked(rec, viewerID != "" && viewerID == rec.ownerID), nil
}

// MyRooms lists the rooms ownerID created, newest first.
func (s *Store) MyRooms(ownerID string) []room.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := make([]*roomRecord, 0)
	for _, rec := range s.rooms {
		if rec.ownerID == ownerID {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].created.Equal(recs[j].created) {
			return recs[i].room.Code < recs[j].room.Code
		}
		return recs[i].created.After(recs[j].created)
	})
	res := make([]room.Room, 0, len(recs))
	for _, rec := range recs {
		res = append(res, s.snapshotLocked(rec, true))
	}
	return res
}

func (s *Store) DeleteRoom(code, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.ownedLocked(code, userID)
	if err != nil {
		return err
	}
	delete(s.rooms, rec.room.Code)
	return nil
}

func (s *Store) ownedLocked(code, userID string) (*roomRecord, error) {
	rec, ok := s.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if userID == "" || rec.ownerID != userID {
		return nil, ErrNotOwner
	}
	return rec, nil
}

// Vote records one ballot and returns the tallies to broadcast. In rooms
// that require accreditation everyone but the creator votes with a verified
// roster phone number, and each roster entry votes once.
func (s *Store) Vote(code string, voter Voter, optionID, phone string) (room.VoteUpdateEvent, error) {
	phone = strings.TrimSpace(phone)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.rooms[code]
	if !ok {
		return room.VoteUpdateEvent{}, ErrRoomNotFound
	}
	if !s.opts.Now().Before(rec.room.Deadline) {
		return room.VoteUpdateEvent{}, ErrRoomExpired
	}
	idx := -1
	for i, o := range rec.room.Options {
		if o.ID == optionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return room.VoteUpdateEvent{}, ErrInvalidOption
	}

	creator := voter.UserID != "" && voter.UserID == rec.ownerID
	var entry *room.AccreditedVoter
	var key string
	switch {
	case rec.room.RequireAccreditation && !creator:
		if phone == "" {
			return room.VoteUpdateEvent{}, ErrPhoneRequired
		}
		entry = rec.rosterEntry(phone)
		if entry == nil {
			return room.VoteUpdateEvent{}, ErrNotAccredited
		}
		if entry.HasVoted {
			return room.VoteUpdateEvent{}, ErrAlreadyVoted
		}
		if !entry.OTPVerified {
			return room.VoteUpdateEvent{}, ErrNotVerified
		}
		key = "phone:" + phone
	case voter.UserID != "":
		key = "user:" + voter.UserID
	default:
		key = "addr:" + voter.Addr
	}
	if _, dup := rec.ballots[key]; dup {
		return room.VoteUpdateEvent{}, ErrAlreadyVoted
	}

	rec.ballots[key] = idx
	rec.room.Options[idx].Votes++
	if entry != nil {
		entry.HasVoted = true
	}
	if voter.Email != "" {
		rec.room.Voters = append(rec.room.Voters, voter.Email)
	}

	return room.VoteUpdateEvent{
		RoomID:     rec.room.Code,
		Tallies:    rec.tallies(),
		TotalVotes: len(rec.ballots),
		OptionID:   optionID,
		VoterCount: len(rec.ballots),
	}, nil
}

func (s *Store) Tallies(code, userID string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.ownedLocked(code, userID)
	if err != nil {
		return nil, err
	}
	return rec.tallies(), nil
}

// RequestOTP issues a code for a roster phone number and returns it; the
// caller is responsible for delivering it.
func (s *Store) RequestOTP(code, phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", ErrPhoneRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[code]
	if !ok {
		return "", ErrRoomNotFound
	}
	if !rec.room.RequireAccreditation {
		return "", ErrAccreditationOff
	}
	if rec.rosterEntry(phone) == nil {
		return "", ErrNotAccredited
	}
	otp := s.opts.NewOTP()
	rec.otps[phone] = otpEntry{code: otp, expires: s.opts.Now().Add(s.opts.OTPTTL)}
	return otp, nil
}

// VerifyOTP consumes a matching code and returns the roster name.
func (s *Store) VerifyOTP(code, phone, otp string) (string, error) {
	phone = strings.TrimSpace(phone)

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[code]
	if !ok {
		return "", ErrRoomNotFound
	}
	entry := rec.rosterEntry(phone)
	if entry == nil {
		return "", ErrNotAccredited
	}
	issued, ok := rec.otps[phone]
	if !ok || issued.code != strings.TrimSpace(otp) || s.opts.Now().After(issued.expires) {
		return "", ErrOTPInvalid
	}
	delete(rec.otps, phone)
	entry.OTPVerified = true
	return entry.Name, nil
}

func (s *Store) AddVoters(code, userID string, voters []room.VoterInput) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.ownedLocked(code, userID)
	if err != nil {
		return 0, err
	}
	if len(room.CompleteVoters(voters)) == 0 {
		return 0, ErrEmptyRoster
	}
	return rec.addVoters(voters), nil
}

func (s *Store) Voters(code, userID string) ([]room.AccreditedVoter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.ownedLocked(code, userID)
	if err != nil {
		return nil, err
	}
	res := make([]room.AccreditedVoter, 0, len(rec.roster))
	for _, v := range rec.roster {
		res = append(res, *v)
	}
	return res, nil
}
