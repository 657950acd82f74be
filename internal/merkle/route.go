package merkle

// Route is an ordered sequence of child indices from the root that
// addresses a node (spec §3.4). The root's route is empty. Routes are
// immutable: Extend always returns a new Route backed by a freshly
// allocated copy of the receiver's steps, so no two Routes share storage.
type Route struct {
	steps []int32
}

// RootRoute is the route of the tree root.
var RootRoute = Route{}

// Len returns the number of steps in the route.
func (r Route) Len() int { return len(r.steps) }

// Step returns the child index at depth i.
func (r Route) Step(i int) int32 { return r.steps[i] }

// Extend returns the route formed by appending childIndex to r.
func (r Route) Extend(childIndex int32) Route {
	steps := make([]int32, len(r.steps)+1)
	copy(steps, r.steps)
	steps[len(r.steps)] = childIndex
	return Route{steps: steps}
}

// Parent returns the route with its last step removed and true, or the
// zero Route and false if r is already the root route.
func (r Route) Parent() (Route, bool) {
	if len(r.steps) == 0 {
		return Route{}, false
	}
	steps := make([]int32, len(r.steps)-1)
	copy(steps, r.steps[:len(r.steps)-1])
	return Route{steps: steps}, true
}

// Equal reports structural equality between two routes.
func (r Route) Equal(other Route) bool {
	if len(r.steps) != len(other.steps) {
		return false
	}
	for i := range r.steps {
		if r.steps[i] != other.steps[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is a prefix of r (prefix comparison must
// be efficient per spec §3.4; this is a straight slice compare, O(len(prefix))).
func (r Route) HasPrefix(prefix Route) bool {
	if len(prefix.steps) > len(r.steps) {
		return false
	}
	for i := range prefix.steps {
		if r.steps[i] != prefix.steps[i] {
			return false
		}
	}
	return true
}

// Steps returns a defensive copy of the underlying step sequence.
func (r Route) Steps() []int32 {
	out := make([]int32, len(r.steps))
	copy(out, r.steps)
	return out
}
