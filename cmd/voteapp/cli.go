package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"vote-app-client/internal/config"
	"vote-app-client/internal/domain/room"
)

const usage = `usage: voteapp [global flags] <command> [flags] [args]

commands:
  register         -email -password -name
  login            -email -password
  logout
  whoami
  forgot-password  -email
  reset-password   -token -password
  rooms            list your rooms with their current tallies
  create           -title -options a,b [-description] [-deadline 24h] [-accredited -voter "Name=+15550100"]
  delete <code>
  show <code>
  vote <code>      -option N [-phone +15550100]
  watch <code>     stream vote updates until interrupted
  voters <code>    [-add "Name=+15550100"]
  state            print the stored client state
`

// parseGlobal applies the global flags on top of cfg and returns the command
// line that follows them.
func parseGlobal(args []string, cfg config.Config, stderr io.Writer) (config.Config, []string, error) {
	fs := flag.NewFlagSet("voteapp", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }

	apiURL := fs.String("api", "", "REST base URL (VOTEAPP_API_URL)")
	wsURL := fs.String("ws", "", "realtime URL (VOTEAPP_WS_URL)")
	state := fs.String("state", "", "client state DSN (VOTEAPP_STATE_DSN)")
	driver := fs.String("state-driver", "", "client state driver, sqlite or pgx (VOTEAPP_STATE_DRIVER)")
	level := fs.String("log-level", "", "log level (VOTEAPP_LOG_LEVEL)")
	metricsAddr := fs.String("metrics-addr", "", "serve /metrics on this address (VOTEAPP_METRICS_ADDR)")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, nil, err
	}

	if *apiURL != "" {
		cfg.APIURL = strings.TrimRight(*apiURL, "/")
		if *wsURL == "" {
			cfg.WSURL = config.DeriveWSURL(cfg.APIURL)
		}
	}
	if *wsURL != "" {
		cfg.WSURL = *wsURL
	}
	if *state != "" {
		cfg.StateDSN = *state
	}
	if *driver != "" {
		cfg.StateDriver = *driver
	}
	if *level != "" {
		cfg.LogLevel = *level
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	if fs.NArg() == 0 {
		fs.Usage()
		return config.Config{}, nil, errors.New("command required")
	}
	return cfg, fs.Args(), nil
}

// voterList collects repeated -voter "Name=+phone" flags.
type voterList []room.VoterInput

func (v *voterList) String() string {
	parts := make([]string, 0, len(*v))
	for _, in := range *v {
		parts = append(parts, in.Name+"="+in.PhoneNumber)
	}
	return strings.Join(parts, ",")
}

func (v *voterList) Set(s string) error {
	name, phone, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("voter %q: want Name=+phone", s)
	}
	*v = append(*v, room.VoterInput{Name: strings.TrimSpace(name), PhoneNumber: strings.TrimSpace(phone)})
	return nil
}

// parseDeadline accepts a duration from now or an RFC3339 timestamp.
func parseDeadline(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("deadline %q: want a duration like 24h or an RFC3339 time", s)
	}
	return t, nil
}

func splitOptions(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// parseIndex reads a 1-based option number as shown by show.
func parseIndex(s string, count int) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > count {
		return 0, fmt.Errorf("option must be between 1 and %d", count)
	}
	return n - 1, nil
}
