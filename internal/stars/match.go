package stars

import (
	"math"
	"sort"
)

// Match pairs a star index in the source list with one in the reference list.
type Match struct {
	Src int
	Ref int
}

const (
	// Triangle construction is cubic in star count; the brightest few are
	// enough for a consensus transform.
	matchStarCap = 20

	invariantTol = 0.01
	minVotes     = 3

	// Triangles flatter than this ratio of shortest to longest side carry
	// unstable invariants and are skipped.
	minSideRatio = 0.1
)

type triangle struct {
	// Vertices ordered by the length of their opposite side, shortest
	// first. Similar triangles correspond vertex-for-vertex in this order.
	v   [3]int
	inv [2]float64
}

// MatchStars finds corresponding stars between two detections using
// triangle-similarity voting. Triangles built from the brightest stars on
// each side are compared by their scale- and rotation-invariant side ratios;
// every invariant agreement votes for its three vertex pairings, and pairs
// with consistent support become matches. Works under translation, rotation
// and moderate scale change between the frames.
func MatchStars(src, ref []Star) []Match {
	s := capList(src)
	r := capList(ref)
	if len(s) < 3 || len(r) < 3 {
		return nil
	}

	refTris := buildTriangles(r)
	grid := make(map[[2]int][]int)
	for i, t := range refTris {
		grid[quantize(t.inv)] = append(grid[quantize(t.inv)], i)
	}

	votes := make(map[Match]int)
	for _, st := range buildTriangles(s) {
		cell := quantize(st.inv)
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				for _, ri := range grid[[2]int{cell[0] + dx, cell[1] + dy}] {
					rt := refTris[ri]
					if math.Abs(st.inv[0]-rt.inv[0]) > invariantTol ||
						math.Abs(st.inv[1]-rt.inv[1]) > invariantTol {
						continue
					}
					for k := 0; k < 3; k++ {
						votes[Match{Src: st.v[k], Ref: rt.v[k]}]++
					}
				}
			}
		}
	}

	type scored struct {
		m Match
		n int
	}
	ranked := make([]scored, 0, len(votes))
	for m, n := range votes {
		if n >= minVotes {
			ranked = append(ranked, scored{m, n})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n != ranked[j].n {
			return ranked[i].n > ranked[j].n
		}
		if ranked[i].m.Src != ranked[j].m.Src {
			return ranked[i].m.Src < ranked[j].m.Src
		}
		return ranked[i].m.Ref < ranked[j].m.Ref
	})

	usedSrc := make(map[int]bool)
	usedRef := make(map[int]bool)
	var matches []Match
	for _, c := range ranked {
		if usedSrc[c.m.Src] || usedRef[c.m.Ref] {
			continue
		}
		usedSrc[c.m.Src] = true
		usedRef[c.m.Ref] = true
		matches = append(matches, c.m)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Src < matches[j].Src })
	return matches
}

func capList(list []Star) []Star {
	if len(list) > matchStarCap {
		return list[:matchStarCap]
	}
	return list
}

func quantize(inv [2]float64) [2]int {
	return [2]int{int(inv[0] / invariantTol), int(inv[1] / invariantTol)}
}

func buildTriangles(list []Star) []triangle {
	var tris []triangle
	for i := 0; i < len(list); i++ {
		for j := i + 1; j < len(list); j++ {
			for k := j + 1; k < len(list); k++ {
				if t, ok := newTriangle(list, i, j, k); ok {
					tris = append(tris, t)
				}
			}
		}
	}
	return tris
}

func newTriangle(list []Star, i, j, k int) (triangle, bool) {
	type side struct {
		vertex int
		length float64
	}
	sides := [3]side{
		{i, dist(list[j], list[k])},
		{j, dist(list[i], list[k])},
		{k, dist(list[i], list[j])},
	}
	sort.Slice(sides[:], func(a, b int) bool { return sides[a].length < sides[b].length })

	longest := sides[2].length
	if longest == 0 || sides[0].length/longest < minSideRatio {
		return triangle{}, false
	}
	return triangle{
		v:   [3]int{sides[0].vertex, sides[1].vertex, sides[2].vertex},
		inv: [2]float64{sides[1].length / longest, sides[0].length / longest},
	}, true
}

func dist(a, b Star) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
