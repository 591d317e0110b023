package coordination

import (
	"context"
	"fmt"
	"sort"
)

// Oracle scores every action of the action space for a device state.
// Scores are ordered like the action space; lower is preferred.
type Oracle interface {
	Score(ctx context.Context, state DeviceState) ([]float64, error)
}

// AdvantageRow is the cost of moving one device from its baseline action to Action.
type AdvantageRow struct {
	DeviceID string  `json:"device_id"`
	Action   Action  `json:"action"`
	Cost     float64 `json:"cost"`
	Rank     int     `json:"rank"`

	seq int
}

// Ranking holds the power-increasing and power-decreasing rows, cheapest first.
type Ranking struct {
	Up   []AdvantageRow
	Down []AdvantageRow
}

// RankingInput collects what BuildRanking needs per participant.
type RankingInput struct {
	Participants    []string
	ActionSpace     ActionSpace
	BaselineActions map[string]Action
	BaselineStates  map[string]DeviceState
	Oracles         map[string]Oracle
	// LegacyDownFilter applies the upward reachability filter to the down table.
	LegacyDownFilter bool
}

// BuildRanking scores every non-baseline action of every participant, drops
// unreachable rows and orders both tables for cheapest-first consumption.
func BuildRanking(ctx context.Context, in RankingInput) (Ranking, error) {
	if err := in.ActionSpace.Validate(); err != nil {
		return Ranking{}, err
	}
	var up, down []AdvantageRow
	seq := 0
	for _, deviceID := range in.Participants {
		baseline, ok := in.BaselineActions[deviceID]
		if !ok || !in.ActionSpace.Contains(baseline) {
			return Ranking{}, fmt.Errorf("%w: baseline action for device %s", ErrUnknownAction, deviceID)
		}
		state, ok := in.BaselineStates[deviceID]
		if !ok {
			return Ranking{}, fmt.Errorf("%w: device %s", ErrMissingState, deviceID)
		}
		oracle, ok := in.Oracles[deviceID]
		if !ok || oracle == nil {
			return Ranking{}, fmt.Errorf("%w: device %s", ErrMissingOracle, deviceID)
		}
		scores, err := oracle.Score(ctx, state)
		if err != nil {
			return Ranking{}, fmt.Errorf("coordination: score device %s: %w", deviceID, err)
		}
		if len(scores) != len(in.ActionSpace) {
			return Ranking{}, fmt.Errorf("%w: device %s has %d scores for %d actions", ErrActionSpaceMismatch, deviceID, len(scores), len(in.ActionSpace))
		}
		for i, action := range in.ActionSpace {
			if action == baseline {
				continue
			}
			row := AdvantageRow{DeviceID: deviceID, Action: action, Cost: scores[i], seq: seq}
			seq++
			if action > baseline {
				up = append(up, row)
			} else {
				down = append(down, row)
			}
		}
	}

	up = filterReachable(up, true)
	down = filterReachable(down, in.LegacyDownFilter)
	return Ranking{Up: orderByRank(denseRank(up)), Down: orderByRank(denseRank(down))}, nil
}

// filterReachable walks rows by ascending cost and, per device, drops a row
// whose action moves against the previously retained row of that device.
func filterReachable(rows []AdvantageRow, increasing bool) []AdvantageRow {
	sorted := append([]AdvantageRow(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Cost != sorted[j].Cost {
			return sorted[i].Cost < sorted[j].Cost
		}
		return sorted[i].seq < sorted[j].seq
	})
	last := make(map[string]Action)
	kept := sorted[:0]
	for _, row := range sorted {
		if prev, ok := last[row.DeviceID]; ok {
			if increasing && row.Action < prev {
				continue
			}
			if !increasing && row.Action > prev {
				continue
			}
		}
		last[row.DeviceID] = row.Action
		kept = append(kept, row)
	}
	return kept
}

// denseRank gives equal costs equal ranks without gaps; the highest cost gets
// rank 1, so the cheapest row carries the largest rank.
func denseRank(rows []AdvantageRow) []AdvantageRow {
	costs := make([]float64, 0, len(rows))
	seen := make(map[float64]struct{}, len(rows))
	for _, row := range rows {
		if _, ok := seen[row.Cost]; ok {
			continue
		}
		seen[row.Cost] = struct{}{}
		costs = append(costs, row.Cost)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(costs)))
	rankOf := make(map[float64]int, len(costs))
	for i, cost := range costs {
		rankOf[cost] = i + 1
	}
	for i := range rows {
		rows[i].Rank = rankOf[rows[i].Cost]
	}
	return rows
}

func orderByRank(rows []AdvantageRow) []AdvantageRow {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Rank != rows[j].Rank {
			return rows[i].Rank > rows[j].Rank
		}
		return rows[i].seq < rows[j].seq
	})
	return rows
}
