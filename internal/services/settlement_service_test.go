package services

import (
	"testing"

	"github.com/prizepool/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestPolicyTable_Resolve(t *testing.T) {
	table := NewPolicyTable()

	t.Run("known policies", func(t *testing.T) {
		wta, err := table.Resolve("winner_take_all")
		assert.NoError(t, err)
		assert.Equal(t, WinnerTakeAll, wta.Kind)

		top3, err := table.Resolve("top_3_split")
		assert.NoError(t, err)
		assert.Equal(t, TopNSplit, top3.Kind)
		assert.Len(t, top3.Splits, 3)
	})

	t.Run("unknown policy", func(t *testing.T) {
		_, err := table.Resolve("double_or_nothing")
		assert.ErrorIs(t, err, ErrUnknownPolicy)
	})
}

func TestSettle_WinnerTakeAll(t *testing.T) {
	policy := Policy{Name: "winner_take_all", Kind: WinnerTakeAll}

	t.Run("single winner takes entire pool", func(t *testing.T) {
		entries := []models.RankedEntry{
			{UserID: "u1", Rank: 1, Score: 98},
			{UserID: "u2", Rank: 2, Score: 77},
			{UserID: "u3", Rank: 3, Score: 60},
		}

		payouts := Settle(entries, 10000, policy)
		assert.Len(t, payouts, 1)
		assert.Equal(t, "u1", payouts[0].UserID)
		assert.Equal(t, int64(10000), payouts[0].AmountCents)
		assert.Equal(t, 1, payouts[0].Rank)
	})

	t.Run("two-way tie splits pool equally", func(t *testing.T) {
		entries := []models.RankedEntry{
			{UserID: "u1", Rank: 1, Score: 90},
			{UserID: "u2", Rank: 1, Score: 90},
			{UserID: "u3", Rank: 3, Score: 50},
		}

		payouts := Settle(entries, 10000, policy)
		assert.Len(t, payouts, 2)
		assert.Equal(t, int64(5000), payouts[0].AmountCents)
		assert.Equal(t, int64(5000), payouts[1].AmountCents)
	})

	t.Run("empty entries produce empty payouts", func(t *testing.T) {
		payouts := Settle([]models.RankedEntry{}, 10000, policy)
		assert.Empty(t, payouts)
	})

	t.Run("no rank-1 entries produce empty payouts", func(t *testing.T) {
		entries := []models.RankedEntry{
			{UserID: "u1", Rank: 2, Score: 80},
			{UserID: "u2", Rank: 3, Score: 70},
		}

		payouts := Settle(entries, 10000, policy)
		assert.Empty(t, payouts)
	})
}

func TestSettle_TopNSplit(t *testing.T) {
	policy := NewTopNPolicy("top_3_split", 50, 30, 20)

	t.Run("full field pays configured percentages", func(t *testing.T) {
		entries := []models.RankedEntry{
			{UserID: "u3", Rank: 3, Score: 60},
			{UserID: "u1", Rank: 1, Score: 98},
			{UserID: "u2", Rank: 2, Score: 77},
			{UserID: "u4", Rank: 4, Score: 40},
		}

		payouts := Settle(entries, 10000, policy)
		assert.Len(t, payouts, 3)
		assert.Equal(t, models.Payout{UserID: "u1", AmountCents: 5000, Rank: 1}, payouts[0])
		assert.Equal(t, models.Payout{UserID: "u2", AmountCents: 3000, Rank: 2}, payouts[1])
		assert.Equal(t, models.Payout{UserID: "u3", AmountCents: 2000, Rank: 3}, payouts[2])
	})

	t.Run("short field rescales consumed percentages to whole pool", func(t *testing.T) {
		entries := []models.RankedEntry{
			{UserID: "u1", Rank: 1, Score: 98},
			{UserID: "u2", Rank: 2, Score: 77},
		}

		// 50/30 of a 50/30/20 policy consumed: 50/80 and 30/80 of the pool.
		payouts := Settle(entries, 10000, policy)
		assert.Len(t, payouts, 2)
		assert.Equal(t, int64(6250), payouts[0].AmountCents)
		assert.Equal(t, int64(3750), payouts[1].AmountCents)
		assert.Equal(t, int64(10000), payouts[0].AmountCents+payouts[1].AmountCents)
	})

	t.Run("tied group consumes slots and splits their combined percentage", func(t *testing.T) {
		entries := []models.RankedEntry{
			{UserID: "u1", Rank: 1, Score: 90},
			{UserID: "u2", Rank: 1, Score: 90},
			{UserID: "u3", Rank: 3, Score: 60},
		}

		// The rank-1 pair consumes the 50 and 30 slots: 40% each; u3 gets 20%.
		payouts := Settle(entries, 10000, policy)
		assert.Len(t, payouts, 3)
		assert.Equal(t, int64(4000), payouts[0].AmountCents)
		assert.Equal(t, int64(4000), payouts[1].AmountCents)
		assert.Equal(t, int64(2000), payouts[2].AmountCents)
	})

	t.Run("positions beyond the configured slots receive nothing", func(t *testing.T) {
		entries := []models.RankedEntry{
			{UserID: "u1", Rank: 1, Score: 98},
			{UserID: "u2", Rank: 2, Score: 77},
			{UserID: "u3", Rank: 3, Score: 60},
			{UserID: "u4", Rank: 4, Score: 40},
			{UserID: "u5", Rank: 5, Score: 30},
		}

		payouts := Settle(entries, 10000, policy)
		assert.Len(t, payouts, 3)
		for _, p := range payouts {
			assert.NotEqual(t, "u4", p.UserID)
			assert.NotEqual(t, "u5", p.UserID)
		}
	})

	t.Run("tie spilling past the last slot splits what remains", func(t *testing.T) {
		entries := []models.RankedEntry{
			{UserID: "u1", Rank: 1, Score: 90},
			{UserID: "u2", Rank: 2, Score: 80},
			{UserID: "u3", Rank: 3, Score: 70},
			{UserID: "u4", Rank: 3, Score: 70},
		}

		// The rank-3 pair has one slot left: its 20% splits into 10% each.
		payouts := Settle(entries, 10000, policy)
		assert.Len(t, payouts, 4)
		assert.Equal(t, int64(5000), payouts[0].AmountCents)
		assert.Equal(t, int64(3000), payouts[1].AmountCents)
		assert.Equal(t, int64(1000), payouts[2].AmountCents)
		assert.Equal(t, int64(1000), payouts[3].AmountCents)
	})
}

func TestSettle_Determinism(t *testing.T) {
	policy := NewTopNPolicy("top_3_split", 50, 30, 20)
	entries := []models.RankedEntry{
		{UserID: "u2", Rank: 1, Score: 90},
		{UserID: "u1", Rank: 1, Score: 90},
		{UserID: "u3", Rank: 3, Score: 60},
	}

	first := Settle(entries, 9999, policy)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Settle(entries, 9999, policy))
	}

	t.Run("input order does not change output", func(t *testing.T) {
		reversed := []models.RankedEntry{entries[2], entries[1], entries[0]}
		assert.Equal(t, first, Settle(reversed, 9999, policy))
	})

	t.Run("input slice is not mutated", func(t *testing.T) {
		assert.Equal(t, "u2", entries[0].UserID)
	})
}
