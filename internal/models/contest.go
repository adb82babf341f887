package models

// RankedEntry is one row of a contest's final standings as supplied by the
// scoring component. Rank is 1-based; ties share a rank.
type RankedEntry struct {
	UserID string  `json:"user_id" validate:"required"`
	Rank   int     `json:"rank" validate:"required,gt=0"`
	Score  float64 `json:"score"`
}

// Payout is one computed prize: never persisted directly, only after being
// turned into a PayoutTransfer row.
type Payout struct {
	UserID      string `json:"user_id"`
	AmountCents int64  `json:"amount_cents"`
	Rank        int    `json:"rank"`
}

// SettlementRequest is the trigger delivered by the contest lifecycle
// component once a contest reaches its terminal scoring state.
type SettlementRequest struct {
	ContestID      string        `json:"contestId" validate:"required"`
	RankedEntries  []RankedEntry `json:"rankedEntries" validate:"dive"`
	PrizePoolCents int64         `json:"prizePoolCents" validate:"required,gt=0"`
	Policy         string        `json:"policy" validate:"required"`
}
