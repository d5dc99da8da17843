package cases

// Option is one named value of an axis. Apply writes the value into the
// case under construction.
type Option[T any] struct {
	Name  string
	Apply func(*T)
}

// Axis is one dimension of a case space; its options are enumerated in
// declaration order.
type Axis[T any] struct {
	Name    string
	Options []Option[T]
}

// Filter rejects combinations. Filters are pure and run in order; the
// first rejecting filter is charged with the skip.
type Filter[T any] struct {
	Name   string
	Reject func(*T) bool
}

// Space is a declarative description of one test group: the cartesian
// product of its axes, pruned by its filters.
type Space[T Case] struct {
	Group   string
	Base    T
	Axes    []Axis[T]
	Filters []Filter[T]
	// Finish derives dependent fields once every axis has been applied.
	Finish func(*T)
}

// Stats counts the combinations a space produced and rejected.
type Stats struct {
	Total   int
	Emitted int
	Skipped map[string]int
}

// Enumerate visits every surviving combination in axis order. path holds
// the option names, one per axis.
func (s Space[T]) Enumerate(visit func(path []string, c T)) Stats {
	st := Stats{Skipped: make(map[string]int)}
	idx := make([]int, len(s.Axes))
	path := make([]string, len(s.Axes))

	var walk func(depth int)
	walk = func(depth int) {
		if depth == len(s.Axes) {
			st.Total++
			c := s.Base
			for i, ax := range s.Axes {
				opt := ax.Options[idx[i]]
				path[i] = opt.Name
				if opt.Apply != nil {
					opt.Apply(&c)
				}
			}
			if s.Finish != nil {
				s.Finish(&c)
			}
			for _, f := range s.Filters {
				if f.Reject(&c) {
					st.Skipped[f.Name]++
					return
				}
			}
			st.Emitted++
			out := make([]string, len(path))
			copy(out, path)
			visit(out, c)
			return
		}
		for i := range s.Axes[depth].Options {
			idx[depth] = i
			walk(depth + 1)
		}
	}
	walk(0)
	return st
}

// Build materializes the space under a new group node. Intermediate
// groups are created on first use, so empty groups never appear.
func (s Space[T]) Build() (*Node, Stats) {
	root := NewGroup(s.Group)
	st := s.Enumerate(func(path []string, c T) {
		root.Insert(path, c)
	})
	return root, st
}
