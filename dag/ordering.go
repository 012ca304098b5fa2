package dag

import "sort"

// DefaultK is the default anticone parameter k used for blue/red partition.
const DefaultK = 8

// topoOrderLocked returns all known blocks in a parents-before-children
// order, breaking ties deterministically by hash so every node computes the
// same ordering from the same accepted set.
func (s *Store) topoOrderLocked() []string {
	indegree := make(map[string]int, len(s.parents))
	for h, parents := range s.parents {
		count := 0
		for _, p := range parents {
			if _, ok := s.parents[p]; ok {
				count++
			}
		}
		indegree[h] = count
	}

	var ready []string
	for h, d := range indegree {
		if d == 0 {
			ready = append(ready, h)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		sort.Strings(ready)
		h := ready[0]
		ready = ready[1:]
		order = append(order, h)
		for _, c := range s.children[h] {
			indegree[c]--
			if indegree[c] == 0 {
				ready = append(ready, c)
			}
		}
	}
	return order
}

// BluePartition partitions all known blocks into blue and red sets with
// anticone parameter k: processing blocks in topological order, a block is
// blue if it has at most k blue blocks in its anticone (restricted to blocks
// decided so far). Blocks are visited in the hash-tie-broken topological
// order of topoOrderLocked; the selection does not start from the heaviest
// tip or follow any selected-parent chain.
func (s *Store) BluePartition(k int) map[string]bool {
	if k <= 0 {
		k = DefaultK
	}
	s.mu.RLock()
	order := s.topoOrderLocked()
	s.mu.RUnlock()

	blue := make(map[string]bool, len(order))
	for _, h := range order {
		anticone := s.Anticone(h)
		blueInAnticone := 0
		for a := range anticone {
			if blue[a] {
				blueInAnticone++
				if blueInAnticone > k {
					break
				}
			}
		}
		if blueInAnticone <= k {
			blue[h] = true
		}
	}
	return blue
}

// Linearize produces the deterministic total order over all known blocks:
// the blue set sorted topologically, with each red block spliced in
// immediately after its latest blue ancestor, ties broken by smaller hash.
func (s *Store) Linearize(k int) []string {
	blue := s.BluePartition(k)

	s.mu.RLock()
	order := s.topoOrderLocked()
	parents := s.parents
	s.mu.RUnlock()

	position := make(map[string]int, len(order))
	for i, h := range order {
		position[h] = i
	}

	var blueOrder []string
	redByInsertionPoint := make(map[string][]string)
	var rootBucket []string

	for _, h := range order {
		if blue[h] {
			blueOrder = append(blueOrder, h)
			continue
		}
		latestBlueAncestor := ""
		latestPos := -1
		for a := range s.AncestorsOf(h) {
			if blue[a] && position[a] > latestPos {
				latestBlueAncestor, latestPos = a, position[a]
			}
		}
		if latestBlueAncestor == "" {
			rootBucket = append(rootBucket, h)
		} else {
			redByInsertionPoint[latestBlueAncestor] = append(redByInsertionPoint[latestBlueAncestor], h)
		}
	}
	_ = parents

	sort.Strings(rootBucket)
	final := append([]string{}, rootBucket...)
	for _, b := range blueOrder {
		final = append(final, b)
		reds := redByInsertionPoint[b]
		sort.Strings(reds)
		final = append(final, reds...)
	}
	return final
}
