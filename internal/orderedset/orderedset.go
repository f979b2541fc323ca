package orderedset

// Set is a set datastructure that keeps it's elements in insertion order.
type Set[K comparable] struct {
	order []K
	m     map[K]struct{}
}

func New[K comparable](elems ...K) *Set[K] {
	s := Set[K]{m: make(map[K]struct{}, len(elems))}
	s.Add(elems...)

	return &s
}

// Add appends the elements that are not part of the set yet.
func (s *Set[K]) Add(elems ...K) {
	for _, e := range elems {
		if _, exist := s.m[e]; exist {
			continue
		}

		s.m[e] = struct{}{}
		s.order = append(s.order, e)
	}
}

// Remove deletes elem from the set.
// If it does not exist, nothing is done.
func (s *Set[K]) Remove(elem K) {
	if _, exist := s.m[elem]; !exist {
		return
	}

	delete(s.m, elem)

	for i, e := range s.order {
		if e == elem {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *Set[K]) Contains(elem K) bool {
	_, exist := s.m[elem]
	return exist
}

// Len returns the number of elements in the set.
func (s *Set[K]) Len() int {
	return len(s.order)
}

// Slice returns a new slice containing the elements of the set in insertion
// order.
func (s *Set[K]) Slice() []K {
	result := make([]K, len(s.order))
	copy(result, s.order)

	return result
}

// Equal returns true if both sets contain the same elements, the order is
// ignored.
func (s *Set[K]) Equal(other *Set[K]) bool {
	if s.Len() != other.Len() {
		return false
	}

	for k := range s.m {
		if !other.Contains(k) {
			return false
		}
	}

	return true
}

// Clone returns a copy of the set.
func (s *Set[K]) Clone() *Set[K] {
	return New(s.order...)
}
