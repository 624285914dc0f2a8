// game/match.go
package game

import (
	"sort"
)

// Slack added on top of one diameter when deciding whether two balls touch.
const adjacencySlack = 2.0

// BallInfo 消除判定用的球快照（只读）
type BallInfo struct {
	ID    uint64
	X, Y  float64
	Color Color
}

// Resolution 一次消除判定的结果
type Resolution struct {
	// Groups holds the removal groups in discovery order. A ball appears
	// in at most one group per resolution pass.
	Groups [][]uint64
	// Removed is the union of all groups.
	Removed []uint64
	// WakeIDs are surviving balls that were resting on removed ones and
	// must be forced awake so the stack above can fall.
	WakeIDs []uint64
	Popped  int
}

// Resolver 纯粹的同色连通块消除算法
//
// The resolver holds no simulation state; it only sees positions and
// colors and decides what gets removed. The same code path serves both
// deployments: without rainbow/skull balls on the board phase B and the
// wildcard expansion never trigger.
type Resolver struct {
	adjacency float64
	wake      float64
	minGroup  int
}

// NewResolver creates a resolver for balls of the given radius.
func NewResolver(ballRadius float64) *Resolver {
	return &Resolver{
		adjacency: 2*ballRadius + adjacencySlack,
		wake:      3 * ballRadius, // 1.5 × diameter
		minGroup:  3,
	}
}

// Resolve 扫描全部球并返回要移除的组、唤醒集合与消除数量
//
// Visitation follows ascending ball id, the stable registry order, so the
// outcome is deterministic for a given board.
func (rv *Resolver) Resolve(balls []BallInfo) Resolution {
	var res Resolution
	if len(balls) < rv.minGroup {
		return res
	}

	ordered := make([]BallInfo, len(balls))
	copy(ordered, balls)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	n := len(ordered)
	adj := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if withinDist(ordered[i], ordered[j], rv.adjacency) {
				adj[i] = append(adj[i], j)
				adj[j] = append(adj[j], i)
			}
		}
	}

	type group struct {
		members      []int
		matchedColor Color
		hasRainbow   bool
	}

	visited := make([]bool, n)
	var groups []group

	// Phase A: flood fill seeded from standard-colored balls, absorbing
	// rainbow neighbors as wildcards.
	for i := 0; i < n; i++ {
		if visited[i] || !ordered[i].Color.IsStandard() {
			continue
		}
		seed := ordered[i].Color
		members := floodFill(i, visited, adj, func(j int) bool {
			c := ordered[j].Color
			return c == seed || c == ColorRainbow
		})
		if len(members) < rv.minGroup {
			continue
		}
		g := group{members: members}
		for _, m := range members {
			switch c := ordered[m].Color; {
			case c == ColorRainbow:
				g.hasRainbow = true
			case c.IsStandard():
				// Later color wins if a group ever spans several
				// standard colors.
				g.matchedColor = c
			}
		}
		groups = append(groups, g)
	}

	// Phase B: pure rainbow components among whatever is left.
	for i := 0; i < n; i++ {
		if visited[i] || ordered[i].Color != ColorRainbow {
			continue
		}
		members := floodFill(i, visited, adj, func(j int) bool {
			return ordered[j].Color == ColorRainbow
		})
		if len(members) < rv.minGroup {
			continue
		}
		groups = append(groups, group{members: members, hasRainbow: true})
	}

	if len(groups) == 0 {
		return res
	}

	claimed := make([]bool, n)
	for _, g := range groups {
		for _, m := range g.members {
			claimed[m] = true
		}
	}

	// Wildcard expansion. Expansion only claims balls no other group owns
	// yet, keeping removal groups disjoint.
	final := make([][]int, len(groups))
	for gi, g := range groups {
		members := append([]int(nil), g.members...)
		if g.hasRainbow {
			if g.matchedColor != "" {
				// Color bomb: every ball of the matched color goes.
				for j := 0; j < n; j++ {
					if !claimed[j] && ordered[j].Color == g.matchedColor {
						claimed[j] = true
						members = append(members, j)
					}
				}
			} else {
				// Pure rainbow match: full clear, skulls excepted.
				for j := 0; j < n; j++ {
					if !claimed[j] && ordered[j].Color != ColorSkull {
						claimed[j] = true
						members = append(members, j)
					}
				}
			}
			// A rainbow leaving the board takes adjacent skulls with it.
			for _, m := range members {
				if ordered[m].Color != ColorRainbow {
					continue
				}
				for j := 0; j < n; j++ {
					if !claimed[j] && ordered[j].Color == ColorSkull &&
						withinDist(ordered[m], ordered[j], rv.adjacency) {
						claimed[j] = true
						members = append(members, j)
					}
				}
			}
		}
		final[gi] = members
	}

	for _, fg := range final {
		ids := make([]uint64, len(fg))
		for k, m := range fg {
			ids[k] = ordered[m].ID
		}
		res.Groups = append(res.Groups, ids)
		res.Removed = append(res.Removed, ids...)
	}
	res.Popped = len(res.Removed)

	// Survivors strictly above a removed ball and close enough to have
	// been resting on it are forced awake.
	for s := 0; s < n; s++ {
		if claimed[s] {
			continue
		}
		for j := 0; j < n; j++ {
			if !claimed[j] {
				continue
			}
			if ordered[s].Y < ordered[j].Y && withinDist(ordered[s], ordered[j], rv.wake) {
				res.WakeIDs = append(res.WakeIDs, ordered[s].ID)
				break
			}
		}
	}

	return res
}

// floodFill runs a breadth-first traversal from seed over neighbors the
// filter accepts, marking every reached ball visited. The explicit work
// queue keeps stack depth independent of component size.
func floodFill(seed int, visited []bool, adj [][]int, accept func(int) bool) []int {
	visited[seed] = true
	queue := []int{seed}
	var members []int
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		members = append(members, cur)
		for _, nb := range adj[cur] {
			if visited[nb] || !accept(nb) {
				continue
			}
			visited[nb] = true
			queue = append(queue, nb)
		}
	}
	return members
}

func withinDist(a, b BallInfo, d float64) bool {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return dx*dx+dy*dy <= d*d
}
