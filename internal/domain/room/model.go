package room

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"vote-app-client/internal/platform/apperr"
)

const (
	MinOptions = 2
	MaxOptions = 5
)

type Option struct {
	ID    string `json:"id,omitempty"`
	Text  string `json:"text"`
	Votes int    `json:"votes,omitempty"`
}

// UnmarshalJSON accepts the document-store "_id" as the stable identifier
// when "id" is absent.
func (o *Option) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID      string `json:"id"`
		MongoID string `json:"_id"`
		Text    string `json:"text"`
		Votes   *int   `json:"votes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	o.ID = raw.ID
	if o.ID == "" {
		o.ID = raw.MongoID
	}
	o.Text = raw.Text
	o.Votes = 0
	if raw.Votes != nil {
		o.Votes = *raw.Votes
	}
	return nil
}

type AccreditedVoter struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
	HasVoted    bool   `json:"hasVoted"`
	OTPVerified bool   `json:"otpVerified"`
}

// VoterInput is a roster row as entered by a room creator.
type VoterInput struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
}

type Room struct {
	ID                   string            `json:"id"`
	Code                 string            `json:"roomId"`
	Title                string            `json:"title"`
	Description          string            `json:"description"`
	Options              []Option          `json:"options"`
	Deadline             time.Time         `json:"deadline"`
	IsExpired            bool              `json:"isExpired"`
	TotalVotes           int               `json:"totalVotes"`
	Tallies              []int             `json:"tallies,omitempty"`
	VoterCount           int               `json:"voterCount,omitempty"`
	CreatorEmail         string            `json:"creatorEmail,omitempty"`
	Voters               []string          `json:"voters,omitempty"`
	RequireAccreditation bool              `json:"requireAccreditation,omitempty"`
	AccreditedVoters     []AccreditedVoter `json:"accreditedVoters,omitempty"`
	MaxVoters            int               `json:"maxVoters,omitempty"`
}

// VoteUpdateEvent is the vote-updated push payload. Tallies are absolute
// counts aligned with the room's option order.
type VoteUpdateEvent struct {
	RoomID     string `json:"roomId"`
	Tallies    []int  `json:"tallies"`
	TotalVotes int    `json:"totalVotes"`
	OptionID   string `json:"optionId"`
	VoterCount int    `json:"voterCount"`
}

// Expired is true once the server says so or the deadline has passed.
func (r *Room) Expired(now time.Time) bool {
	if r.IsExpired {
		return true
	}
	return !r.Deadline.IsZero() && !now.Before(r.Deadline)
}

// CreatedBy compares the creator email case-insensitively. It only decides
// what the UI offers; the server enforces the privilege.
func (r *Room) CreatedBy(email string) bool {
	return email != "" && r.CreatorEmail != "" && strings.EqualFold(r.CreatorEmail, email)
}

// ApplyTallies folds absolute tallies into the options by position. Options
// past the end of tallies keep their count and tallies past the last option
// are dropped. The event total replaces TotalVotes as-is.
func (r *Room) ApplyTallies(tallies []int, total int) {
	for i := range r.Options {
		if i >= len(tallies) {
			break
		}
		r.Options[i].Votes = tallies[i]
	}
	r.TotalVotes = total
}

func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Options = append([]Option(nil), r.Options...)
	c.Tallies = append([]int(nil), r.Tallies...)
	c.Voters = append([]string(nil), r.Voters...)
	c.AccreditedVoters = append([]AccreditedVoter(nil), r.AccreditedVoters...)
	return &c
}

type DisplayOption struct {
	Index      int
	ID         string
	Text       string
	Votes      int
	Percentage float64
	ShowCounts bool
}

// Display renders the options, hiding counts unless showCounts is set.
func (r *Room) Display(showCounts bool) []DisplayOption {
	res := make([]DisplayOption, 0, len(r.Options))
	for i, o := range r.Options {
		d := DisplayOption{Index: i, ID: o.ID, Text: o.Text, ShowCounts: showCounts}
		if showCounts {
			d.Votes = o.Votes
			d.Percentage = percentage(o.Votes, r.TotalVotes)
		}
		res = append(res, d)
	}
	return res
}

// Leaderboard returns the n options with the most votes, ties kept in option
// order.
func (r *Room) Leaderboard(n int) []DisplayOption {
	all := r.Display(true)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Votes > all[j].Votes })
	if n >= 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

func percentage(votes, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(votes) * 100.0 / float64(total)
}

type CreateRequest struct {
	Title                string       `json:"title"`
	Description          string       `json:"description"`
	Options              []string     `json:"options"`
	Deadline             time.Time    `json:"deadline"`
	RequireAccreditation bool         `json:"requireAccreditation"`
	AccreditedVoters     []VoterInput `json:"accreditedVoters"`
}

// Normalize trims text, drops blank options and incomplete roster rows, and
// empties the roster when accreditation is off.
func (req CreateRequest) Normalize() CreateRequest {
	out := CreateRequest{
		Title:                strings.TrimSpace(req.Title),
		Description:          strings.TrimSpace(req.Description),
		Deadline:             req.Deadline,
		RequireAccreditation: req.RequireAccreditation,
		Options:              []string{},
		AccreditedVoters:     []VoterInput{},
	}
	for _, o := range req.Options {
		if t := strings.TrimSpace(o); t != "" {
			out.Options = append(out.Options, t)
		}
	}
	if req.RequireAccreditation {
		out.AccreditedVoters = CompleteVoters(req.AccreditedVoters)
	}
	return out
}

// Validate checks a normalized request.
func (req CreateRequest) Validate(now time.Time) error {
	if req.Title == "" {
		return apperr.Validation("title_required", "title is required")
	}
	if len(req.Options) < MinOptions {
		return apperr.Validation("too_few_options", "At least 2 options are required")
	}
	if len(req.Options) > MaxOptions {
		return apperr.Validation("too_many_options", "You can add at most 5 options")
	}
	if req.Deadline.IsZero() || !req.Deadline.After(now) {
		return apperr.Validation("invalid_deadline", "deadline must be in the future")
	}
	if req.RequireAccreditation && len(req.AccreditedVoters) == 0 {
		return apperr.Validation("roster_required", "At least one accredited voter is required when accreditation is enabled")
	}
	return nil
}

// CompleteVoters keeps roster rows that have both a name and a phone number.
func CompleteVoters(in []VoterInput) []VoterInput {
	out := []VoterInput{}
	for _, v := range in {
		name := strings.TrimSpace(v.Name)
		phone := strings.TrimSpace(v.PhoneNumber)
		if name == "" || phone == "" {
			continue
		}
		out = append(out, VoterInput{Name: name, PhoneNumber: phone})
	}
	return out
}

// API is the slice of the REST client a room view needs.
type API interface {
	GetRoom(ctx context.Context, code string) (*Room, error)
	Vote(ctx context.Context, code, optionID, phoneNumber string) error
	LiveTallies(ctx context.Context, code string) ([]int, error)
}

// DashboardAPI is the slice of the REST client the dashboard needs.
type DashboardAPI interface {
	MyRooms(ctx context.Context) ([]Room, error)
	CreateRoom(ctx context.Context, req CreateRequest) (*Room, error)
	DeleteRoom(ctx context.Context, code string) error
}
