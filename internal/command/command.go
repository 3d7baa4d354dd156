// Package command is the reference-only `/rtp` surface (spec.md §6):
// "exposed, reference only — not part of the hard core". It parses
// command arguments into an Attempt Manager call; the actual in-game
// command registration (permissions, tab completion, player lookup) is
// a plugin-framework concern this repo does not implement.
package command

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/thesorekill/SorekillRTP/internal/attempt"
)

// Kind discriminates the parsed command shape.
type Kind int

const (
	// KindSelf is `/rtp` or `/rtp <world-alias>`: RTP the caller on this
	// server, optionally to a specific world.
	KindSelf Kind = iota
	// KindCrossServer is `/rtp <server>`: RTP the caller to another
	// server. Parse leaves World empty.
	KindCrossServer
	// KindAdmin is `/rtp <player> [server] [world]`: RTP a named player
	// on the caller's behalf. Permission checks are the caller's concern
	// (spec.md §1 non-goal).
	KindAdmin
	// KindReload is `/rtp reload`: reread configuration. Only the token
	// is recognized; nothing in this repository performs a reload.
	KindReload
)

// Parsed is the result of parsing one `/rtp ...` invocation.
type Parsed struct {
	Kind     Kind
	Target   uuid.UUID // set only for KindAdmin
	Server   string    // target server, "" means "this one"
	World    string    // resolved world name, "" means "caller's current world"
	IsPlayer bool      // Target is meaningful
}

// WorldAliases maps the fixed reference aliases from spec.md §6 to
// configured world ids. The caller builds it from live config and passes
// it to Parse, since world names are deployment-specific.
type WorldAliases map[string]string

// Parse interprets raw `/rtp` arguments. knownServers and aliases come
// from live configuration; isAdmin gates KindAdmin/KindReload parsing.
func Parse(args []string, knownServers map[string]bool, aliases WorldAliases, isAdmin bool) (Parsed, error) {
	if len(args) == 0 {
		return Parsed{Kind: KindSelf}, nil
	}

	first := args[0]

	if first == "reload" {
		if !isAdmin {
			return Parsed{}, fmt.Errorf("command: reload requires admin")
		}
		return Parsed{Kind: KindReload}, nil
	}

	if world, ok := aliases[first]; ok {
		return Parsed{Kind: KindSelf, World: world}, nil
	}

	if knownServers[first] {
		return Parsed{Kind: KindCrossServer, Server: first}, nil
	}

	if !isAdmin {
		return Parsed{}, fmt.Errorf("command: unrecognized server or world alias %q", first)
	}

	target, err := uuid.Parse(first)
	if err != nil {
		return Parsed{}, fmt.Errorf("command: %q is not a known server, world alias, or player id: %w", first, err)
	}
	p := Parsed{Kind: KindAdmin, Target: target, IsPlayer: true}
	if len(args) > 1 {
		p.Server = args[1]
	}
	if len(args) > 2 {
		if w, ok := aliases[args[2]]; ok {
			p.World = w
		} else {
			p.World = args[2]
		}
	}
	return p, nil
}

// ToOptions converts a Parsed command into the Attempt Manager's start
// options for the player the command ultimately targets.
func (p Parsed) ToOptions() attempt.Options {
	return attempt.Options{TargetServer: p.Server, World: p.World}
}
