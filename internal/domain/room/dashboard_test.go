package room

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vote-app-client/internal/platform/apperr"
)

type fakeDashboardAPI struct {
	mu        sync.Mutex
	rooms     []Room
	created   []CreateRequest
	deleted   []string
	deleteErr error
	calls     int
}

func (f *fakeDashboardAPI) MyRooms(ctx context.Context) ([]Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make([]Room, 0, len(f.rooms))
	for i := range f.rooms {
		out = append(out, *f.rooms[i].Clone())
	}
	return out, nil
}

func (f *fakeDashboardAPI) CreateRoom(ctx context.Context, req CreateRequest) (*Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.created = append(f.created, req)
	rm := &Room{Code: "new1", Title: req.Title, Deadline: req.Deadline}
	for i, text := range req.Options {
		rm.Options = append(rm.Options, Option{ID: string(rune('a' + i)), Text: text})
	}
	return rm, nil
}

func (f *fakeDashboardAPI) DeleteRoom(ctx context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, code)
	return nil
}

func dashboardRooms() []Room {
	return []Room{
		{Code: "r1", Title: "One", Options: []Option{{ID: "a", Text: "Yes", Votes: 2}, {ID: "b", Text: "No", Votes: 1}}, TotalVotes: 3},
		{Code: "r2", Title: "Two", Options: []Option{{ID: "x", Text: "Left"}, {ID: "y", Text: "Right"}}},
		{Code: "r1", Title: "Duplicate"},
	}
}

func TestDashboardLoadDedupesCodes(t *testing.T) {
	api := &fakeDashboardAPI{rooms: dashboardRooms()}
	d := NewDashboard(api, func() time.Time { return fixedNow })

	require.NoError(t, d.Load(context.Background()))
	assert.Equal(t, []string{"r1", "r2"}, d.Codes())
	rm, ok := d.Room("r1")
	require.True(t, ok)
	assert.Equal(t, "One", rm.Title)
}

func TestDashboardEventTouchesOnlyItsRoom(t *testing.T) {
	api := &fakeDashboardAPI{rooms: dashboardRooms()}
	d := NewDashboard(api, func() time.Time { return fixedNow })
	require.NoError(t, d.Load(context.Background()))

	before, _ := d.Room("r2")
	var changed []string
	d.Subscribe(func(code string) { changed = append(changed, code) })

	require.True(t, d.ApplyEvent(VoteUpdateEvent{RoomID: "r1", Tallies: []int{3, 1}, TotalVotes: 4, VoterCount: 4}))
	assert.False(t, d.ApplyEvent(VoteUpdateEvent{RoomID: "zz", Tallies: []int{1}, TotalVotes: 1}))

	after, _ := d.Room("r2")
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("r2 changed (-before +after):\n%s", diff)
	}

	r1, _ := d.Room("r1")
	assert.Equal(t, []int{3, 1}, votes(r1))
	assert.Equal(t, 4, r1.TotalVotes)
	assert.Equal(t, []int{3, 1}, r1.Tallies)
	assert.Equal(t, 4, r1.VoterCount)
	assert.Equal(t, []string{"r1"}, changed)
}

func TestDashboardCreateValidatesLocally(t *testing.T) {
	api := &fakeDashboardAPI{}
	d := NewDashboard(api, func() time.Time { return fixedNow })

	_, err := d.Create(context.Background(), CreateRequest{
		Title:    "Lunch",
		Options:  []string{"Only"},
		Deadline: fixedNow.Add(time.Hour),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Zero(t, api.calls)

	created, err := d.Create(context.Background(), CreateRequest{
		Title:    " Lunch ",
		Options:  []string{"Pizza", "", "Sushi"},
		Deadline: fixedNow.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "new1", created.Code)
	require.Len(t, api.created, 1)
	assert.Equal(t, "Lunch", api.created[0].Title)
	assert.Equal(t, []string{"Pizza", "Sushi"}, api.created[0].Options)
	assert.Equal(t, []string{"new1"}, d.Codes())
}

func TestDashboardDeleteWaitsForServer(t *testing.T) {
	api := &fakeDashboardAPI{rooms: dashboardRooms()}
	d := NewDashboard(api, func() time.Time { return fixedNow })
	require.NoError(t, d.Load(context.Background()))

	api.deleteErr = apperr.FromStatus(http.StatusForbidden, "forbidden", "Only the creator can delete", false)
	err := d.Delete(context.Background(), "r2")
	require.Error(t, err)
	assert.Equal(t, []string{"r1", "r2"}, d.Codes())

	api.deleteErr = nil
	require.NoError(t, d.Delete(context.Background(), "r2"))
	assert.Equal(t, []string{"r1"}, d.Codes())
	_, ok := d.Room("r2")
	assert.False(t, ok)
	assert.Equal(t, []string{"r2"}, api.deleted)
}

func TestDashboardRoomsAreCopies(t *testing.T) {
	api := &fakeDashboardAPI{rooms: dashboardRooms()}
	d := NewDashboard(api, nil)
	require.NoError(t, d.Load(context.Background()))

	rooms := d.Rooms()
	rooms[0].Options[0].Votes = 100
	rm, _ := d.Room("r1")
	assert.Equal(t, 2, rm.Options[0].Votes)
}
