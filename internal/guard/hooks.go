package guard

import "fmt"

// UnloadBinder is the platform hook for page/app unload interception.
// When the supplied predicate returns block=true at unload time, the
// platform must prevent the default unload and show message.
type UnloadBinder interface {
	OnBeforeUnload(predicate func() (message string, block bool))
}

// RouteBinder is the platform hook for in-app route transitions. When
// the predicate returns true, the platform must defer the transition and
// surface the block/proceed decision.
type RouteBinder interface {
	OnRouteChange(predicate func() bool)
}

// BindUnload wires the guard's safety state into the platform's unload
// interception.
func (g *Guard) BindUnload(binder UnloadBinder) {
	binder.OnBeforeUnload(func() (string, bool) {
		if g.IsNavigationSafe() {
			return "", false
		}
		return g.UnloadMessage(), true
	})
}

// BindRoute wires the guard's safety state into in-app route
// interception.
func (g *Guard) BindRoute(binder RouteBinder) {
	binder.OnRouteChange(func() bool {
		return !g.IsNavigationSafe()
	})
}

// UnloadMessage builds the confirmation string shown at unload time.
// Always non-empty while navigation is unsafe; the highest-priority
// blocker names the reason.
func (g *Guard) UnloadMessage() string {
	blockers := g.ActiveBlockers()
	if len(blockers) == 0 {
		return ""
	}
	top := blockers[0]
	if len(blockers) == 1 {
		return fmt.Sprintf("%s. Leave anyway?", top.Label)
	}
	return fmt.Sprintf("%s (and %d more). Leave anyway?", top.Label, len(blockers)-1)
}
