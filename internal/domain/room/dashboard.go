package room

import (
	"context"
	"sync"
	"time"

	"vote-app-client/internal/platform/notify"
)

// Dashboard holds the signed-in user's rooms keyed by room code and folds
// vote-updated events into the matching entry only.
type Dashboard struct {
	api DashboardAPI
	now func() time.Time

	mu    sync.Mutex
	order []string
	rooms map[string]*Room

	changes notify.Listeners[string]
}

func NewDashboard(api DashboardAPI, now func() time.Time) *Dashboard {
	if now == nil {
		now = time.Now
	}
	return &Dashboard{
		api:   api,
		now:   now,
		rooms: make(map[string]*Room),
	}
}

// Subscribe registers fn, called with the code of every room that changed.
// An empty code means the whole collection was replaced.
func (d *Dashboard) Subscribe(fn func(code string)) func() {
	return d.changes.Add(fn)
}

func (d *Dashboard) Load(ctx context.Context) error {
	rooms, err := d.api.MyRooms(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.order = d.order[:0]
	d.rooms = make(map[string]*Room, len(rooms))
	for i := range rooms {
		code := rooms[i].Code
		if _, dup := d.rooms[code]; dup {
			continue
		}
		d.order = append(d.order, code)
		d.rooms[code] = rooms[i].Clone()
	}
	d.mu.Unlock()

	d.changes.Emit("")
	return nil
}

// ApplyEvent merges ev into the room it names. It reports false when the
// code is not on the dashboard.
func (d *Dashboard) ApplyEvent(ev VoteUpdateEvent) bool {
	d.mu.Lock()
	rm, ok := d.rooms[ev.RoomID]
	if !ok {
		d.mu.Unlock()
		return false
	}
	rm.ApplyTallies(ev.Tallies, ev.TotalVotes)
	rm.Tallies = append([]int(nil), ev.Tallies...)
	rm.VoterCount = ev.VoterCount
	d.mu.Unlock()

	d.changes.Emit(ev.RoomID)
	return true
}

// Create validates req locally, creates the room and adds it to the
// collection.
func (d *Dashboard) Create(ctx context.Context, req CreateRequest) (*Room, error) {
	req = req.Normalize()
	if err := req.Validate(d.now()); err != nil {
		return nil, err
	}
	created, err := d.api.CreateRoom(ctx, req)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if _, exists := d.rooms[created.Code]; !exists {
		d.order = append(d.order, created.Code)
	}
	d.rooms[created.Code] = created.Clone()
	d.mu.Unlock()

	d.changes.Emit(created.Code)
	return created.Clone(), nil
}

// Delete removes the room once the server confirms the deletion.
func (d *Dashboard) Delete(ctx context.Context, code string) error {
	if err := d.api.DeleteRoom(ctx, code); err != nil {
		return err
	}

	d.mu.Lock()
	delete(d.rooms, code)
	for i, c := range d.order {
		if c == code {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.mu.Unlock()

	d.changes.Emit(code)
	return nil
}

// Rooms returns copies in server order.
func (d *Dashboard) Rooms() []Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := make([]Room, 0, len(d.order))
	for _, code := range d.order {
		res = append(res, *d.rooms[code].Clone())
	}
	return res
}

func (d *Dashboard) Room(code string) (*Room, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rm, ok := d.rooms[code]
	if !ok {
		return nil, false
	}
	return rm.Clone(), true
}

func (d *Dashboard) Codes() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.order...)
}
