// Package rtpkeys names every shared key and channel used by the RTP
// coordination layer and serializes the records that live behind them.
//
// All keys live under a single configurable prefix so that multiple
// logically-distinct deployments can share one Redis instance without
// collision.
package rtpkeys

import (
	"strings"

	"github.com/google/uuid"
)

// Keys builds fully-qualified key and channel names under a sanitized
// prefix. The zero value is not usable — create one with New.
type Keys struct {
	prefix string
}

// New sanitizes prefix so it ends with exactly one ":" and returns a Keys
// builder. An empty prefix defaults to "rtp:".
func New(prefix string) Keys {
	if prefix == "" {
		prefix = "rtp"
	}
	prefix = strings.TrimRight(prefix, ":")
	return Keys{prefix: prefix + ":"}
}

// Prefix returns the sanitized prefix, including its trailing colon.
func (k Keys) Prefix() string { return k.prefix }

// Compute returns the pub/sub channel name for compute requests.
func (k Keys) Compute() string { return k.prefix + "compute" }

// Resp returns the key for a compute response keyed by request id.
func (k Keys) Resp(requestID string) string { return k.prefix + "resp:" + requestID }

// Pending returns the key for a player's pending finalize instruction.
func (k Keys) Pending(player uuid.UUID) string { return k.prefix + "pending:" + player.String() }

// Cooldown returns the key for a player's RTP cooldown marker.
func (k Keys) Cooldown(player uuid.UUID) string { return k.prefix + "cooldown:" + player.String() }

// Presence returns the key for a player's last-known server.
func (k Keys) Presence(player uuid.UUID) string { return k.prefix + "presence:" + player.String() }

// Spawn returns the key for a player's shared bed/anchor spawn record.
func (k Keys) Spawn(player uuid.UUID) string { return k.prefix + "spawn:" + player.String() }
