package services

import (
	"errors"
	"fmt"
	"sort"

	"github.com/prizepool/backend/internal/models"
	"github.com/shopspring/decimal"
)

// ErrUnknownPolicy is returned when a settlement trigger names a policy the
// table was not built with.
var ErrUnknownPolicy = errors.New("unknown settlement policy")

// PolicyKind enumerates the closed set of prize-distribution strategies.
type PolicyKind int

const (
	// WinnerTakeAll splits the whole pool equally among rank-1 entries.
	WinnerTakeAll PolicyKind = iota
	// TopNSplit pays a configured percentage per finishing position.
	TopNSplit
)

// Policy is one prize-distribution strategy. Splits holds the percentage
// per position for TopNSplit and is empty for WinnerTakeAll.
type Policy struct {
	Name   string
	Kind   PolicyKind
	Splits []decimal.Decimal
}

// PolicyTable resolves policy names to strategies. Built once at startup;
// never mutated afterwards.
type PolicyTable struct {
	policies map[string]Policy
}

// NewPolicyTable builds the default policy set.
func NewPolicyTable() *PolicyTable {
	table := &PolicyTable{policies: make(map[string]Policy)}
	table.register(Policy{Name: "winner_take_all", Kind: WinnerTakeAll})
	table.register(NewTopNPolicy("top_3_split", 50, 30, 20))
	table.register(NewTopNPolicy("top_5_split", 40, 25, 15, 12, 8))
	return table
}

// NewTopNPolicy builds a TopNSplit policy from whole-number percentages.
func NewTopNPolicy(name string, percentages ...int64) Policy {
	splits := make([]decimal.Decimal, len(percentages))
	for i, p := range percentages {
		splits[i] = decimal.NewFromInt(p)
	}
	return Policy{Name: name, Kind: TopNSplit, Splits: splits}
}

func (pt *PolicyTable) register(p Policy) {
	pt.policies[p.Name] = p
}

// Resolve returns the named policy or ErrUnknownPolicy.
func (pt *PolicyTable) Resolve(name string) (Policy, error) {
	p, ok := pt.policies[name]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	return p, nil
}

// Settle converts final standings and a prize pool into per-user payouts.
// Pure and deterministic: identical inputs give bit-identical outputs, no
// clock, no randomness. Empty standings or standings with no rank-1 entry
// produce an empty payout list.
func Settle(entries []models.RankedEntry, prizePoolCents int64, policy Policy) []models.Payout {
	if len(entries) == 0 || !hasRankOne(entries) {
		return []models.Payout{}
	}

	ranked := make([]models.RankedEntry, len(entries))
	copy(ranked, entries)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Rank != ranked[j].Rank {
			return ranked[i].Rank < ranked[j].Rank
		}
		return ranked[i].UserID < ranked[j].UserID
	})

	pool := decimal.NewFromInt(prizePoolCents)

	switch policy.Kind {
	case WinnerTakeAll:
		return settleWinnerTakeAll(ranked, pool)
	case TopNSplit:
		return settleTopN(ranked, pool, policy.Splits)
	default:
		return []models.Payout{}
	}
}

// settleWinnerTakeAll splits the pool equally among all rank-1 entries, so
// ties divide the pool by the tied-winner count.
func settleWinnerTakeAll(ranked []models.RankedEntry, pool decimal.Decimal) []models.Payout {
	winners := []models.RankedEntry{}
	for _, e := range ranked {
		if e.Rank == 1 {
			winners = append(winners, e)
		}
	}

	share := pool.Div(decimal.NewFromInt(int64(len(winners)))).Floor()
	payouts := make([]models.Payout, 0, len(winners))
	for _, w := range winners {
		payouts = append(payouts, models.Payout{
			UserID:      w.UserID,
			AmountCents: share.IntPart(),
			Rank:        1,
		})
	}
	return payouts
}

// settleTopN walks tied rank groups in order. A tied group consumes as many
// percentage slots as its size and splits their combined percentage equally.
// When fewer entries exist than configured slots, the percentages actually
// consumed are rescaled to cover the full pool; positions beyond the slot
// count receive nothing.
func settleTopN(ranked []models.RankedEntry, pool decimal.Decimal, splits []decimal.Decimal) []models.Payout {
	type allocation struct {
		entry models.RankedEntry
		pct   decimal.Decimal
	}

	allocations := []allocation{}
	consumed := decimal.Zero
	slot := 0

	for i := 0; i < len(ranked) && slot < len(splits); {
		j := i
		for j < len(ranked) && ranked[j].Rank == ranked[i].Rank {
			j++
		}
		group := ranked[i:j]

		end := slot + len(group)
		if end > len(splits) {
			end = len(splits)
		}
		groupPct := decimal.Zero
		for _, s := range splits[slot:end] {
			groupPct = groupPct.Add(s)
		}

		memberPct := groupPct.Div(decimal.NewFromInt(int64(len(group))))
		for _, e := range group {
			allocations = append(allocations, allocation{entry: e, pct: memberPct})
		}
		consumed = consumed.Add(groupPct)

		slot += len(group)
		i = j
	}

	if consumed.IsZero() {
		return []models.Payout{}
	}

	payouts := make([]models.Payout, 0, len(allocations))
	for _, a := range allocations {
		amount := pool.Mul(a.pct).Div(consumed).Floor()
		payouts = append(payouts, models.Payout{
			UserID:      a.entry.UserID,
			AmountCents: amount.IntPart(),
			Rank:        a.entry.Rank,
		})
	}
	return payouts
}

func hasRankOne(entries []models.RankedEntry) bool {
	for _, e := range entries {
		if e.Rank == 1 {
			return true
		}
	}
	return false
}
