package room

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vote-app-client/internal/platform/apperr"
)

func TestOptionAcceptsDocumentID(t *testing.T) {
	var rm Room
	payload := `{"roomId":"r1","options":[{"_id":"65f0","text":"Yes","votes":2},{"id":"b","text":"No"},{"text":"Maybe"}]}`
	require.NoError(t, json.Unmarshal([]byte(payload), &rm))

	require.Len(t, rm.Options, 3)
	assert.Equal(t, "65f0", rm.Options[0].ID)
	assert.Equal(t, 2, rm.Options[0].Votes)
	assert.Equal(t, "b", rm.Options[1].ID)
	assert.Equal(t, 0, rm.Options[1].Votes)
	assert.Empty(t, rm.Options[2].ID)
	assert.Equal(t, "r1", rm.Code)
}

func TestRoomExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	open := &Room{Deadline: now.Add(time.Second)}
	assert.False(t, open.Expired(now))

	atDeadline := &Room{Deadline: now}
	assert.True(t, atDeadline.Expired(now))

	flagged := &Room{Deadline: now.Add(time.Hour), IsExpired: true}
	assert.True(t, flagged.Expired(now))

	noDeadline := &Room{}
	assert.False(t, noDeadline.Expired(now))
}

func TestCreatedBy(t *testing.T) {
	rm := &Room{CreatorEmail: "Owner@Example.com"}
	assert.True(t, rm.CreatedBy("owner@example.com"))
	assert.False(t, rm.CreatedBy("someone@example.com"))
	assert.False(t, rm.CreatedBy(""))
	assert.False(t, (&Room{}).CreatedBy(""))
}

func TestCloneIsDeep(t *testing.T) {
	orig := sampleRoom()
	orig.Voters = []string{"x@example.com"}
	c := orig.Clone()
	c.Options[0].Votes = 99
	c.Voters[0] = "changed"

	assert.Equal(t, 2, orig.Options[0].Votes)
	assert.Equal(t, "x@example.com", orig.Voters[0])

	var nilRoom *Room
	assert.Nil(t, nilRoom.Clone())
}

func TestLeaderboard(t *testing.T) {
	rm := &Room{
		Options: []Option{
			{ID: "a", Text: "A", Votes: 1},
			{ID: "b", Text: "B", Votes: 5},
			{ID: "c", Text: "C", Votes: 5},
			{ID: "d", Text: "D", Votes: 0},
		},
		TotalVotes: 11,
	}

	top := rm.Leaderboard(3)
	require.Len(t, top, 3)
	assert.Equal(t, "b", top[0].ID)
	assert.Equal(t, "c", top[1].ID)
	assert.Equal(t, "a", top[2].ID)
	assert.Len(t, rm.Leaderboard(10), 4)
}

func TestDisplayPercentageWithZeroTotal(t *testing.T) {
	rm := &Room{Options: []Option{{ID: "a", Text: "A", Votes: 0}}}
	opts := rm.Display(true)
	require.Len(t, opts, 1)
	assert.Zero(t, opts[0].Percentage)
}

func TestCreateRequestValidate(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	valid := CreateRequest{
		Title:    "  Team lunch ",
		Options:  []string{"Pizza", " ", "Sushi "},
		Deadline: now.Add(time.Hour),
	}

	cases := []struct {
		name   string
		mutate func(*CreateRequest)
		code   string
	}{
		{name: "valid", mutate: func(*CreateRequest) {}},
		{name: "blank title", mutate: func(r *CreateRequest) { r.Title = "   " }, code: "title_required"},
		{name: "one option", mutate: func(r *CreateRequest) { r.Options = []string{"Only", ""} }, code: "too_few_options"},
		{name: "five options", mutate: func(r *CreateRequest) {
			r.Options = []string{"1", "2", "3", "4", "5"}
		}},
		{name: "six options", mutate: func(r *CreateRequest) {
			r.Options = []string{"1", "2", "3", "4", "5", "6"}
		}, code: "too_many_options"},
		{name: "past deadline", mutate: func(r *CreateRequest) { r.Deadline = now.Add(-time.Minute) }, code: "invalid_deadline"},
		{name: "zero deadline", mutate: func(r *CreateRequest) { r.Deadline = time.Time{} }, code: "invalid_deadline"},
		{name: "accreditation without roster", mutate: func(r *CreateRequest) {
			r.RequireAccreditation = true
			r.AccreditedVoters = []VoterInput{{Name: "Ada", PhoneNumber: " "}}
		}, code: "roster_required"},
		{name: "accreditation with roster", mutate: func(r *CreateRequest) {
			r.RequireAccreditation = true
			r.AccreditedVoters = []VoterInput{{Name: "Ada", PhoneNumber: "+15550100"}}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			req.Options = append([]string(nil), valid.Options...)
			tc.mutate(&req)
			err := req.Normalize().Validate(now)
			if tc.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.KindValidation))
			assert.Equal(t, tc.code, apperr.FromError(err).Code)
		})
	}
}

func TestNormalizeDropsRosterWhenAccreditationOff(t *testing.T) {
	req := CreateRequest{
		Title:            "T",
		Options:          []string{"a", "b"},
		AccreditedVoters: []VoterInput{{Name: "Ada", PhoneNumber: "+15550100"}},
	}
	out := req.Normalize()
	assert.Empty(t, out.AccreditedVoters)
	assert.Equal(t, []string{"a", "b"}, out.Options)
}

func TestCompleteVoters(t *testing.T) {
	in := []VoterInput{
		{Name: " Ada ", PhoneNumber: " +15550100 "},
		{Name: "", PhoneNumber: "+15550101"},
		{Name: "Bob", PhoneNumber: ""},
	}
	assert.Equal(t, []VoterInput{{Name: "Ada", PhoneNumber: "+15550100"}}, CompleteVoters(in))
}
