package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"vote-app-client/internal/app"
	"vote-app-client/internal/domain/accreditation"
	"vote-app-client/internal/domain/room"
	"vote-app-client/internal/domain/session"
)

type cli struct {
	ctx context.Context
	app *app.App
	in  *bufio.Reader
	out io.Writer

	liveCancel context.CancelFunc
	liveDone   chan struct{}
}

func newCLI(ctx context.Context, a *app.App, in io.Reader, out io.Writer) *cli {
	return &cli{ctx: ctx, app: a, in: bufio.NewReader(in), out: out}
}

func (c *cli) dispatch(args []string) error {
	commands := map[string]func([]string) error{
		"register":        c.register,
		"login":           c.login,
		"logout":          c.logout,
		"whoami":          c.whoami,
		"forgot-password": c.forgotPassword,
		"reset-password":  c.resetPassword,
		"rooms":           c.rooms,
		"create":          c.create,
		"delete":          c.delete,
		"show":            c.show,
		"vote":            c.vote,
		"watch":           c.watch,
		"voters":          c.voters,
		"state":           c.state,
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}
	return cmd(args[1:])
}

// goLive brings the realtime channel up for commands that follow pushes.
func (c *cli) goLive() {
	if c.liveCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.liveCancel = cancel
	c.liveDone = make(chan struct{})
	go func() {
		defer close(c.liveDone)
		_ = c.app.Run(ctx)
	}()
}

func (c *cli) stopLive() {
	if c.liveCancel == nil {
		return
	}
	c.liveCancel()
	<-c.liveDone
}

func (c *cli) prompt(label string) (string, error) {
	fmt.Fprint(c.out, label)
	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(label, ": "), err)
	}
	return strings.TrimSpace(line), nil
}

func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.out)
	return fs
}

// roomArg parses fs and returns its single room code argument.
func roomArg(fs *flag.FlagSet, args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 {
		return "", fmt.Errorf("%s: room code required", fs.Name())
	}
	return strings.TrimSpace(fs.Arg(0)), nil
}

func (c *cli) register(args []string) error {
	fs := c.flags("register")
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password, prompted when empty")
	name := fs.String("name", "", "display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pw, err := c.secret(*password)
	if err != nil {
		return err
	}
	if err := c.app.Session.Register(c.ctx, *email, pw, *name); err != nil {
		return err
	}
	return c.whoami(nil)
}

func (c *cli) login(args []string) error {
	fs := c.flags("login")
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password, prompted when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pw, err := c.secret(*password)
	if err != nil {
		return err
	}
	if err := c.app.Session.Login(c.ctx, *email, pw); err != nil {
		return err
	}
	return c.whoami(nil)
}

func (c *cli) secret(v string) (string, error) {
	if v != "" {
		return v, nil
	}
	return c.prompt("Password: ")
}

func (c *cli) logout([]string) error {
	c.app.Session.Logout(c.ctx)
	fmt.Fprintln(c.out, "Signed out")
	return nil
}

func (c *cli) whoami([]string) error {
	u, ok := c.app.Session.User()
	if !ok {
		fmt.Fprintln(c.out, "Not signed in")
		return nil
	}
	fmt.Fprintf(c.out, "Signed in as %s <%s>\n", u.Name, u.Email)
	if !c.app.Session.Trusted() {
		fmt.Fprintln(c.out, "The server rejected the stored credential; sign in again.")
	}
	return nil
}

func (c *cli) forgotPassword(args []string) error {
	fs := c.flags("forgot-password")
	email := fs.String("email", "", "email address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := c.app.Session.ForgotPassword(c.ctx, *email); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "If the address is registered, a reset link is on its way.")
	return nil
}

func (c *cli) resetPassword(args []string) error {
	fs := c.flags("reset-password")
	token := fs.String("token", "", "reset token from the email")
	password := fs.String("password", "", "new password, prompted when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pw, err := c.secret(*password)
	if err != nil {
		return err
	}
	if err := c.app.Session.ResetPassword(c.ctx, *token, pw); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Password updated. Sign in with the new password.")
	return nil
}

func (c *cli) rooms(args []string) error {
	if err := c.flags("rooms").Parse(args); err != nil {
		return err
	}
	dash, err := c.app.OpenDashboard(c.ctx)
	if err != nil {
		return err
	}
	defer dash.Close()

	rooms := dash.Rooms()
	if len(rooms) == 0 {
		fmt.Fprintln(c.out, "No rooms yet. Create one with: voteapp create -title ... -options a,b")
		return nil
	}
	now := time.Now()
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tTITLE\tVOTES\tLEADING\tSTATUS")
	for i := range rooms {
		rm := &rooms[i]
		leading := "-"
		if top := rm.Leaderboard(1); len(top) == 1 && top[0].Votes > 0 {
			leading = top[0].Text
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", rm.Code, rm.Title, rm.TotalVotes, leading, status(rm, now))
	}
	return tw.Flush()
}

func status(rm *room.Room, now time.Time) string {
	if rm.Expired(now) {
		return "closed"
	}
	return "open until " + rm.Deadline.Local().Format("Jan 2 15:04")
}

func (c *cli) create(args []string) error {
	fs := c.flags("create")
	title := fs.String("title", "", "room title")
	description := fs.String("description", "", "room description")
	options := fs.String("options", "", "comma-separated options")
	deadline := fs.String("deadline", "24h", "duration from now or RFC3339 time")
	accredited := fs.Bool("accredited", false, "require phone verification from voters")
	var voters voterList
	fs.Var(&voters, "voter", `accredited voter as "Name=+phone", repeatable`)
	if err := fs.Parse(args); err != nil {
		return err
	}
	due, err := parseDeadline(*deadline, time.Now())
	if err != nil {
		return err
	}

	dash, err := c.app.OpenDashboard(c.ctx)
	if err != nil {
		return err
	}
	defer dash.Close()

	rm, err := dash.Create(c.ctx, room.CreateRequest{
		Title:                *title,
		Description:          *description,
		Options:              splitOptions(*options),
		Deadline:             due,
		RequireAccreditation: *accredited,
		AccreditedVoters:     voters,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Created room %s\nInvite: %s\n", rm.Code, app.InviteURL(webBase(c.app.Config.APIURL), rm.Code))
	return nil
}

func (c *cli) delete(args []string) error {
	code, err := roomArg(c.flags("delete"), args)
	if err != nil {
		return err
	}
	dash, err := c.app.OpenDashboard(c.ctx)
	if err != nil {
		return err
	}
	defer dash.Close()
	if err := dash.Delete(c.ctx, code); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Deleted room %s\n", code)
	return nil
}

func (c *cli) show(args []string) error {
	code, err := roomArg(c.flags("show"), args)
	if err != nil {
		return err
	}
	view, err := c.app.OpenRoom(c.ctx, code)
	if err != nil {
		return err
	}
	defer view.Close()

	c.printRoom(view.State())
	if view.NeedsVerification() {
		fmt.Fprintln(c.out, "Voting in this room requires phone verification.")
	}
	fmt.Fprintf(c.out, "Invite: %s\n", view.InviteURL(webBase(c.app.Config.APIURL)))
	return nil
}

func (c *cli) printRoom(st room.State) {
	rm := st.Room
	fmt.Fprintf(c.out, "%s (%s)\n", rm.Title, rm.Code)
	if rm.Description != "" {
		fmt.Fprintln(c.out, rm.Description)
	}
	fmt.Fprintln(c.out, status(rm, time.Now()))
	for _, o := range st.DisplayOptions() {
		if o.ShowCounts {
			fmt.Fprintf(c.out, "  %d. %s  %d (%.1f%%)\n", o.Index+1, o.Text, o.Votes, o.Percentage)
			continue
		}
		fmt.Fprintf(c.out, "  %d. %s\n", o.Index+1, o.Text)
	}
	if st.ShowResults() {
		fmt.Fprintf(c.out, "Total votes: %d\n", rm.TotalVotes)
	}
	if st.HasVoted {
		fmt.Fprintln(c.out, "You have voted in this room.")
	}
}

func (c *cli) vote(args []string) error {
	fs := c.flags("vote")
	option := fs.String("option", "", "option number as listed by show")
	phone := fs.String("phone", "", "accredited phone number, prompted when needed")
	code, err := roomArg(fs, args)
	if err != nil {
		return err
	}

	view, err := c.app.OpenRoom(c.ctx, code)
	if err != nil {
		return err
	}
	defer view.Close()

	st := view.State()
	idx, err := parseIndex(*option, len(st.Room.Options))
	if err != nil {
		return err
	}

	if view.NeedsVerification() {
		if err := c.verify(view.Gate, *phone); err != nil {
			return err
		}
	}
	if err := view.Vote(c.ctx, idx); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Vote recorded for %q\n", st.Room.Options[idx].Text)
	return nil
}

// verify walks the one-time code exchange for an accreditation room.
func (c *cli) verify(gate *accreditation.Gate, phone string) error {
	var err error
	if phone == "" {
		if phone, err = c.prompt("Phone number: "); err != nil {
			return err
		}
	}
	if err := gate.RequestCode(c.ctx, phone); err != nil {
		return err
	}
	otp, err := c.prompt("Code sent, enter it: ")
	if err != nil {
		return err
	}
	name, err := gate.VerifyCode(c.ctx, phone, otp)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Verified as %s\n", name)
	return nil
}

func (c *cli) watch(args []string) error {
	code, err := roomArg(c.flags("watch"), args)
	if err != nil {
		return err
	}
	view, err := c.app.OpenRoom(c.ctx, code)
	if err != nil {
		return err
	}
	defer view.Close()

	c.printRoom(view.State())
	last := view.State().Room.TotalVotes
	unsubscribe := view.Room.Subscribe(func(st room.State) {
		if st.Room == nil || st.Room.TotalVotes == last {
			return
		}
		last = st.Room.TotalVotes
		fmt.Fprintf(c.out, "%s  %d votes", time.Now().Format("15:04:05"), st.Room.TotalVotes)
		if st.ShowResults() {
			for _, o := range st.DisplayOptions() {
				fmt.Fprintf(c.out, "  %s=%d", o.Text, o.Votes)
			}
		}
		fmt.Fprintln(c.out)
	})
	defer unsubscribe()

	c.goLive()
	<-c.ctx.Done()
	return nil
}

func (c *cli) voters(args []string) error {
	fs := c.flags("voters")
	var add voterList
	fs.Var(&add, "add", `voter to add as "Name=+phone", repeatable`)
	code, err := roomArg(fs, args)
	if err != nil {
		return err
	}
	view, err := c.app.OpenRoom(c.ctx, code)
	if err != nil {
		return err
	}
	defer view.Close()

	if len(add) > 0 {
		added, err := view.Roster.Add(c.ctx, add)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Added %d voter(s)\n", len(added))
	}

	list, err := view.Roster.List(c.ctx)
	if err != nil {
		return err
	}
	sum := accreditation.Summarize(list)
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPHONE\tVERIFIED\tVOTED")
	for _, v := range list {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%t\n", v.Name, v.PhoneNumber, v.OTPVerified, v.HasVoted)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%d voters, %d verified, %d voted\n", sum.Total, sum.Verified, sum.Voted)
	return nil
}

// webBase is the site root that invite links point at: the API host
// without its path.
func webBase(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil || u.Host == "" {
		return apiURL
	}
	u.Scheme = strings.Replace(u.Scheme, "ws", "http", 1)
	u.Path = ""
	u.RawQuery = ""
	return u.String()
}

// state prints the persisted client state. The credential is shortened so
// the output can be pasted into a bug report.
func (c *cli) state(args []string) error {
	if err := c.flags("state").Parse(args); err != nil {
		return err
	}
	stored, err := c.app.StoredState(c.ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(stored))
	for k := range stored {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tVALUE")
	for _, k := range keys {
		v := stored[k]
		if k == session.KeyToken {
			v = shorten(v)
		}
		fmt.Fprintf(tw, "%s\t%s\n", k, v)
	}
	return tw.Flush()
}

func shorten(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}
