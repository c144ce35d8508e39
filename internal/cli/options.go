// Package cli is the interactive draft participant behind cmd/draft.
package cli

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/jason-s-yu/draftsync/internal/draft"
	"github.com/jason-s-yu/draftsync/internal/room"
)

// Mode selects how the participant takes part.
type Mode string

const (
	// ModeHotSeat runs host and every team in one process over an in-memory store.
	ModeHotSeat Mode = "hotseat"
	ModeHost    Mode = "host"
	ModeJoin    Mode = "join"
)

// Options are the command-line settings of one run.
type Options struct {
	Mode      Mode
	Code      string
	Name      string
	Profile   string
	Format    draft.Format
	Seed      uint64
	PoolsPath string
	// Resume rejoins the room saved by the previous run before anything else.
	Resume  bool
	Journal bool
}

// ErrUsage is returned for a malformed command line.
var ErrUsage = errors.New("usage: draft [flags] hotseat | host | join CODE")

// ParseOptions parses flags and the positional mode from args.
func ParseOptions(fs *flag.FlagSet, args []string) (Options, error) {
	var opts Options
	var format string
	fs.StringVar(&opts.Name, "name", "Trainer", "display name")
	fs.StringVar(&opts.Profile, "profile", "", "session profile, for several participants on one machine")
	fs.StringVar(&format, "format", string(draft.FormatTwoTeam), "draft format (2team, 3team)")
	fs.Uint64Var(&opts.Seed, "seed", 1, "wildcard seed")
	fs.StringVar(&opts.PoolsPath, "pools", "", "JSON file with maps, umas and cards (default: built-in pools)")
	fs.BoolVar(&opts.Resume, "resume", true, "rejoin the saved session when there is one")
	fs.BoolVar(&opts.Journal, "journal", false, "publish applied actions to the archive queue")
	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return Options{}, ErrUsage
	}
	opts.Mode = Mode(strings.ToLower(rest[0]))
	opts.Format = draft.Format(format)
	if draft.Rules(opts.Format) == nil {
		return Options{}, fmt.Errorf("unknown format %q", format)
	}

	switch opts.Mode {
	case ModeHotSeat, ModeHost:
		if len(rest) != 1 {
			return Options{}, ErrUsage
		}
	case ModeJoin:
		if len(rest) != 2 {
			return Options{}, ErrUsage
		}
		code, err := room.ValidateCode(rest[1])
		if err != nil {
			return Options{}, err
		}
		opts.Code = code
	default:
		return Options{}, ErrUsage
	}
	return opts, nil
}
