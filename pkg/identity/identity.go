// Package identity implements C1: privilege drop/reclaim and the
// supplementary-group cache, so that initgroups-like resolution happens
// once per (user, gid) instead of once per launch.
package identity

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"sync"
	"syscall"

	"github.com/cuemby/taskd/pkg/log"
)

// SavedState is what save_state() captures so a later reclaim() can
// restore the supervisor's original identity.
type SavedState struct {
	UID     int
	GID     int
	Groups  []int
	WorkDir string
}

// Save captures the current effective identity and working directory.
func Save() (*SavedState, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("identity: getwd: %w", err)
	}
	groups, err := syscall.Getgroups()
	if err != nil {
		return nil, fmt.Errorf("identity: getgroups: %w", err)
	}
	return &SavedState{
		UID:     syscall.Geteuid(),
		GID:     syscall.Getegid(),
		Groups:  groups,
		WorkDir: wd,
	}, nil
}

// DropNonSetuid performs the two-phase, non-setuid form of drop(): it
// installs the target gid and the user's cached supplementary groups but
// leaves the effective uid as the super-user so the caller can still
// Reclaim(). Only valid when the current effective uid is root.
func DropNonSetuid(cache *GroupCache, toUID, toGID uint32) error {
	if syscall.Geteuid() != 0 {
		return fmt.Errorf("identity: drop requires effective uid 0, have %d", syscall.Geteuid())
	}
	groups, err := cache.Lookup(toUID, toGID)
	if err != nil {
		return fmt.Errorf("identity: group lookup for uid %d: %w", toUID, err)
	}
	if err := syscall.Setgroups(intSlice(groups)); err != nil {
		return fmt.Errorf("identity: setgroups: %w", err)
	}
	if err := syscall.Setegid(int(toGID)); err != nil {
		return fmt.Errorf("identity: setegid(%d): %w", toGID, err)
	}
	return nil
}

// Reclaim restores the identity captured by Save. Failures here are
// logged but do not panic: per §4.1, a failed reclaim should not abort the
// process if the supervisor can still tear the step down.
func Reclaim(state *SavedState) {
	if err := syscall.Setegid(state.GID); err != nil {
		log.Logger.Error().Err(err).Msg("identity: reclaim setegid failed")
	}
	if err := syscall.Seteuid(state.UID); err != nil {
		log.Logger.Error().Err(err).Msg("identity: reclaim seteuid failed")
	}
	if err := syscall.Setgroups(state.Groups); err != nil {
		log.Logger.Error().Err(err).Msg("identity: reclaim setgroups failed")
	}
}

// Credential is what a freshly forked task child passes to Become: the
// irrevocable switch to the real user, after which privilege can never be
// regained in that process.
type Credential struct {
	UID    uint32
	GID    uint32
	Groups []uint32
}

// Become performs the child-side become(user): irrevocable setregid then
// setreuid to real==effective==the target identity. Must run in the
// post-fork child before exec, never in the long-lived supervisor.
func Become(cred Credential) error {
	if err := syscall.Setgroups(intSlice(cred.Groups)); err != nil {
		return fmt.Errorf("identity: become setgroups: %w", err)
	}
	if err := syscall.Setregid(int(cred.GID), int(cred.GID)); err != nil {
		return fmt.Errorf("identity: become setregid(%d): %w", cred.GID, err)
	}
	if err := syscall.Setreuid(int(cred.UID), int(cred.UID)); err != nil {
		return fmt.Errorf("identity: become setreuid(%d): %w", cred.UID, err)
	}
	return nil
}

func intSlice(u []uint32) []int {
	out := make([]int, len(u))
	for i, v := range u {
		out[i] = int(v)
	}
	return out
}

// GroupCache maps (uid, primary gid) to a supplementary-gid
// vector, filled lazily. Entries are append-only after insertion, so
// readers take no lock (§5(ii), §9): a sync.Map already gives us that.
type GroupCache struct {
	entries sync.Map // key: cacheKey -> []uint32
}

type cacheKey struct {
	uid uint32
	gid uint32
}

// NewGroupCache returns an empty cache. Lookup fills it on demand; nothing
// warms it from the system password database at startup.
func NewGroupCache() *GroupCache {
	return &GroupCache{}
}

// Prime does nothing and returns nil: it does not enumerate the password
// database, so the cache stays empty until the first Lookup.
func (c *GroupCache) Prime() error {
	// os/user does not expose a full passwd enumeration in the standard
	// library (no getpwent equivalent), so the cache is filled lazily,
	// once per (uid, gid), by Lookup.
	return nil
}

// Lookup returns (and caches) the supplementary-gid vector for uid/gid.
func (c *GroupCache) Lookup(uid, gid uint32) ([]uint32, error) {
	key := cacheKey{uid: uid, gid: gid}
	if v, ok := c.entries.Load(key); ok {
		return v.([]uint32), nil
	}

	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return nil, fmt.Errorf("identity: lookup uid %d: %w", uid, err)
	}
	gidStrs, err := u.GroupIds()
	if err != nil {
		return nil, fmt.Errorf("identity: group ids for uid %d: %w", uid, err)
	}

	groups := make([]uint32, 0, len(gidStrs)+1)
	groups = append(groups, gid)
	for _, s := range gidStrs {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			continue
		}
		if uint32(n) == gid {
			continue
		}
		groups = append(groups, uint32(n))
	}

	// append-only: a racing writer computing the same value is harmless,
	// LoadOrStore keeps whichever arrived first.
	actual, _ := c.entries.LoadOrStore(key, groups)
	return actual.([]uint32), nil
}

// Refresh drops all cached entries so the next Lookup recomputes them.
// No signal handler in cmd/taskd or cmd/stepd calls it.
func (c *GroupCache) Refresh() {
	c.entries.Range(func(k, _ any) bool {
		c.entries.Delete(k)
		return true
	})
}
