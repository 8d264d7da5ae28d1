package session

import "sync"

// OverrideGuard pins an invite's rendered status to in-progress while this
// client's session UI owns it, so stale paused snapshots arriving over the
// push channel cannot regress the view mid-session. It is a rendering
// filter only and never touches the authoritative remote copy.
type OverrideGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewOverrideGuard() *OverrideGuard {
	return &OverrideGuard{held: make(map[string]struct{})}
}

// Acquire marks the invite as owned by an open session UI.
func (g *OverrideGuard) Acquire(inviteID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.held[inviteID] = struct{}{}
}

// Release drops the override; subsequent pushes render verbatim.
func (g *OverrideGuard) Release(inviteID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, inviteID)
}

func (g *OverrideGuard) Held(inviteID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[inviteID]
	return ok
}

// Rewrite filters an envelope before render. While the invite is held, any
// non-terminal state is forced to accepted/in-progress, preserving whatever
// assessment id and progress fields the push carried. A genuine terminal
// state renders as-is and auto-releases the override.
func (g *OverrideGuard) Rewrite(env Envelope) Envelope {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.held[env.InviteID]; !ok {
		return env
	}
	if env.Status.Terminal() {
		delete(g.held, env.InviteID)
		return env
	}
	env.Status = StatusAccepted
	env.InProgress = true
	env.Paused = false
	return env
}
