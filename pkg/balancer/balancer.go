// Package balancer implements the three range-balancing algorithms
// (EvenRanges, Load, Offload) behind a single interface producing a
// BalancePlan, plus the Balance Plan Authority that tracks an active
// plan's in-flight moves. The least-loaded-candidate selection follows
// the fewest-containers idiom a container scheduler uses to pick a
// placement target, with a shuffle step added to avoid always packing the
// same destination when several candidates tie.
package balancer

import (
	"math/rand"

	"github.com/hyperrange/rangemaster/pkg/types"
)

// RangeInfo is one {Location, StartRow} row scanned from the metadata
// table, the common input every algorithm iterates over.
type RangeInfo struct {
	Table     string
	StartRow  string
	EndRow    string
	Location  string
	IsRoot    bool
	Load      float64
}

// ServerInfo is one candidate destination: its proxy name, whether it's
// presently live, its disk-fill fraction, and an aggregate load estimate
// used by the Load algorithm.
type ServerInfo struct {
	Proxy       string
	Live        bool
	DiskFillPct float64
	LoadAvg     float64
}

// Algorithm produces a BalancePlan from the current range/server
// snapshot. All three concrete variants below implement it.
type Algorithm interface {
	Name() string
	Plan(ranges []RangeInfo, servers []ServerInfo) types.BalancePlan
}

func eligibleDestinations(servers []ServerInfo, diskThreshold float64, exclude map[string]bool) []ServerInfo {
	var out []ServerInfo
	for _, s := range servers {
		if !s.Live {
			continue
		}
		if s.DiskFillPct >= diskThreshold {
			continue
		}
		if exclude[s.Proxy] {
			continue
		}
		out = append(out, s)
	}
	return out
}

func shuffleDestinations(servers []ServerInfo) {
	rand.Shuffle(len(servers), func(i, j int) {
		servers[i], servers[j] = servers[j], servers[i]
	})
}

// EvenRanges minimizes the variance of ranges-per-server within each
// table, skipping the root range, and only acts when the busiest and
// idlest server differ by at least 3 ranges for that table.
type EvenRanges struct {
	DiskThresholdPct float64
}

func (EvenRanges) Name() string { return "EvenRanges" }

func (b EvenRanges) Plan(ranges []RangeInfo, servers []ServerInfo) types.BalancePlan {
	byTable := make(map[string][]RangeInfo)
	for _, r := range ranges {
		if r.IsRoot {
			continue
		}
		byTable[r.Table] = append(byTable[r.Table], r)
	}

	var moves []types.MoveSpec
	for table, tableRanges := range byTable {
		perServer := make(map[string][]RangeInfo)
		for _, r := range tableRanges {
			perServer[r.Location] = append(perServer[r.Location], r)
		}

		maxServer, minServer := "", ""
		maxCount, minCount := -1, int(^uint(0)>>1)
		for _, s := range servers {
			if !s.Live {
				continue
			}
			count := len(perServer[s.Proxy])
			if count > maxCount {
				maxCount, maxServer = count, s.Proxy
			}
			if count < minCount {
				minCount, minServer = count, s.Proxy
			}
		}
		if maxServer == "" || maxCount-minCount < 3 {
			continue
		}

		excess := perServer[maxServer]
		exclude := map[string]bool{maxServer: true}
		dests := eligibleDestinations(servers, b.DiskThresholdPct, exclude)
		if len(dests) == 0 {
			continue
		}
		shuffleDestinations(dests)

		toMove := (maxCount - minCount) / 2
		if toMove < 1 {
			toMove = 1
		}
		for i := 0; i < toMove && i < len(excess); i++ {
			r := excess[i]
			dest := dests[i%len(dests)]
			moves = append(moves, types.MoveSpec{
				Table: table, StartRow: r.StartRow, EndRow: r.EndRow,
				Source: maxServer, Destination: dest.Proxy,
			})
		}
	}

	return types.BalancePlan{Algorithm: b.Name(), Moves: moves}
}

// Load moves ranges from servers above mean+threshold load to servers
// below it, recomputing the estimated load of the source after each move
// so a single pass doesn't over-correct one server.
type Load struct {
	DiskThresholdPct float64
	Threshold        float64
}

func (Load) Name() string { return "Load" }

func (b Load) Plan(ranges []RangeInfo, servers []ServerInfo) types.BalancePlan {
	live := make(map[string]*ServerInfo, len(servers))
	var sum float64
	var liveCount int
	for i := range servers {
		if !servers[i].Live {
			continue
		}
		live[servers[i].Proxy] = &servers[i]
		sum += servers[i].LoadAvg
		liveCount++
	}
	if liveCount == 0 {
		return types.BalancePlan{Algorithm: b.Name()}
	}
	mean := sum / float64(liveCount)

	rangesByServer := make(map[string][]RangeInfo)
	for _, r := range ranges {
		if r.IsRoot {
			continue
		}
		rangesByServer[r.Location] = append(rangesByServer[r.Location], r)
	}

	var moves []types.MoveSpec
	for proxy, server := range live {
		if server.LoadAvg <= mean+b.Threshold {
			continue
		}
		candidates := rangesByServer[proxy]
		exclude := map[string]bool{proxy: true}
		dests := eligibleDestinations(servers, b.DiskThresholdPct, exclude)
		var below []ServerInfo
		for _, d := range dests {
			if d.LoadAvg <= mean+b.Threshold {
				below = append(below, d)
			}
		}
		dests = below
		if len(dests) == 0 {
			continue
		}
		di := 0
		for _, r := range candidates {
			if server.LoadAvg <= mean+b.Threshold {
				break
			}
			dest := dests[di%len(dests)]
			destServer := live[dest.Proxy]

			moves = append(moves, types.MoveSpec{
				Table: r.Table, StartRow: r.StartRow, EndRow: r.EndRow,
				Source: proxy, Destination: dest.Proxy,
			})

			moved := r.Load
			server.LoadAvg -= moved
			if destServer != nil {
				destServer.LoadAvg += moved
			}
			di++
		}
	}

	return types.BalancePlan{Algorithm: b.Name(), Moves: moves}
}

// Offload drains an explicit list of source servers onto the remaining
// live servers, moving the root range first if one of the sources holds
// it.
type Offload struct {
	DiskThresholdPct float64
	Sources          []string
}

func (Offload) Name() string { return "Offload" }

func (b Offload) Plan(ranges []RangeInfo, servers []ServerInfo) types.BalancePlan {
	sourceSet := make(map[string]bool, len(b.Sources))
	for _, s := range b.Sources {
		sourceSet[s] = true
	}

	dests := eligibleDestinations(servers, b.DiskThresholdPct, sourceSet)
	if len(dests) == 0 {
		return types.BalancePlan{Algorithm: b.Name()}
	}
	shuffleDestinations(dests)

	ordered := make([]RangeInfo, 0, len(ranges))
	var rootFirst []RangeInfo
	for _, r := range ranges {
		if !sourceSet[r.Location] {
			continue
		}
		if r.IsRoot {
			rootFirst = append(rootFirst, r)
			continue
		}
		ordered = append(ordered, r)
	}
	ordered = append(rootFirst, ordered...)

	var moves []types.MoveSpec
	for i, r := range ordered {
		dest := dests[i%len(dests)]
		moves = append(moves, types.MoveSpec{
			Table: r.Table, StartRow: r.StartRow, EndRow: r.EndRow,
			Source: r.Location, Destination: dest.Proxy,
		})
	}

	return types.BalancePlan{Algorithm: b.Name(), Moves: moves}
}

