package routing

type Error struct {
	Kind string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// ErrRouteNotFound is returned by ResolveNextHop when neither a static nor
// an unexpired dynamic route exists for the destination (spec.md §4.3).
var ErrRouteNotFound = &Error{Kind: "RouteNotFound", Msg: "routing: no route to destination"}
