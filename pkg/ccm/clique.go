package ccm

import "github.com/dd0wney/cluso-ccm/pkg/bitmap"

// MaxClique returns the largest subset of vertices in which every pair is
// adjacent. Ties go to the subset whose sorted member list is
// lexicographically smallest. adj must be symmetric; it is never asked
// about i == j.
func MaxClique(vertices bitmap.Set, adj func(i, j int) bool) bitmap.Set {
	var nbr [bitmap.MaxNodes]bitmap.Set
	members := vertices.Members()
	for a, i := range members {
		for _, j := range members[a+1:] {
			if adj(i, j) {
				nbr[i].Add(j)
				nbr[j].Add(i)
			}
		}
	}

	var best bitmap.Set
	found := false

	// Bron–Kerbosch with pivoting; every maximal clique is visited.
	var expand func(r, p, x bitmap.Set)
	expand = func(r, p, x bitmap.Set) {
		if p.Empty() && x.Empty() {
			if !found || betterClique(r, best) {
				best, found = r, true
			}
			return
		}
		if found && r.Len()+p.Len() < best.Len() {
			return
		}

		pivot, most := -1, -1
		p.Union(x).Each(func(u int) {
			if n := p.Intersect(nbr[u]).Len(); n > most {
				pivot, most = u, n
			}
		})

		for _, v := range p.Without(nbr[pivot]).Members() {
			next := r
			next.Add(v)
			expand(next, p.Intersect(nbr[v]), x.Intersect(nbr[v]))
			p.Remove(v)
			x.Add(v)
		}
	}
	expand(bitmap.Set{}, vertices, bitmap.Set{})
	return best
}

func betterClique(a, b bitmap.Set) bool {
	if a.Len() != b.Len() {
		return a.Len() > b.Len()
	}
	am, bm := a.Members(), b.Members()
	for i := range am {
		if am[i] != bm[i] {
			return am[i] < bm[i]
		}
	}
	return false
}
