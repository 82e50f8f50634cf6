// Package match assigns required topologies to provided ones by solving a
// maximum bipartite matching with the Hopcroft–Karp algorithm.
package match

import "github.com/Algebraic-Programming/DeployR/topology"

const unmatched = -1

// bipartite is the layered-graph state for one Hopcroft–Karp run. Left
// vertices are required-topology indices, right vertices are given-topology
// indices. adj is built once; edge order is left-to-right with the lowest
// right index first, which makes the result deterministic for a fixed input.
type bipartite struct {
	adj     [][]int
	pairL   []int
	pairR   []int
	dist    []int
	queue   []int
	nLeft   int
	nRight  int
	infDist int
}

func newBipartite(adj [][]int, nRight int) *bipartite {
	n := len(adj)
	b := &bipartite{
		adj:     adj,
		pairL:   make([]int, n),
		pairR:   make([]int, nRight),
		dist:    make([]int, n),
		queue:   make([]int, 0, n),
		nLeft:   n,
		nRight:  nRight,
		infDist: n + 1,
	}
	for i := range b.pairL {
		b.pairL[i] = unmatched
	}
	for j := range b.pairR {
		b.pairR[j] = unmatched
	}
	return b
}

// bfs builds the layer graph from free left vertices and reports whether an
// augmenting path exists.
func (b *bipartite) bfs() bool {
	b.queue = b.queue[:0]
	for u := 0; u < b.nLeft; u++ {
		if b.pairL[u] == unmatched {
			b.dist[u] = 0
			b.queue = append(b.queue, u)
		} else {
			b.dist[u] = b.infDist
		}
	}

	found := false
	for head := 0; head < len(b.queue); head++ {
		u := b.queue[head]
		for _, v := range b.adj[u] {
			w := b.pairR[v]
			if w == unmatched {
				found = true
				continue
			}
			if b.dist[w] == b.infDist {
				b.dist[w] = b.dist[u] + 1
				b.queue = append(b.queue, w)
			}
		}
	}
	return found
}

// dfs follows the layer graph looking for a vertex-disjoint augmenting path
// from u, flipping matched edges along the way.
func (b *bipartite) dfs(u int) bool {
	for _, v := range b.adj[u] {
		w := b.pairR[v]
		if w == unmatched || (b.dist[w] == b.dist[u]+1 && b.dfs(w)) {
			b.pairL[u] = v
			b.pairR[v] = u
			return true
		}
	}
	b.dist[u] = b.infDist
	return false
}

func (b *bipartite) run() int {
	matched := 0
	for b.bfs() {
		for u := 0; u < b.nLeft; u++ {
			if b.pairL[u] == unmatched && b.dfs(u) {
				matched++
			}
		}
	}
	return matched
}

// Match finds an injection f from required indices to given indices such
// that given[f(i)] satisfies required[i] for every i. The second result is
// false when no complete matching exists. O(E·√V).
func Match(required, given []*topology.Topology) ([]int, bool) {
	adj := make([][]int, len(required))
	for i, req := range required {
		for j, host := range given {
			if topology.IsSubset(host, req) {
				adj[i] = append(adj[i], j)
			}
		}
	}

	b := newBipartite(adj, len(given))
	if b.run() != len(required) {
		return nil, false
	}
	return b.pairL, true
}
