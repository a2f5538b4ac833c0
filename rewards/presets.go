/*
presets.go - Pre-built reward tier ladders

PURPOSE:
  Ready-to-use tier definitions for the common category programs, so demo
  scenarios and new quarters can be seeded without typing every bracket.

AVAILABLE LADDERS:
  GoldLadder:
    - one open-ended Gold bracket from a minimum carton count

  StandardLadder:
    - one tier per bracket for a single category
    - a bracket without Max is open ended

  CopyLadder:
    - re-issues a quarter's tiers for another quarter with fresh IDs

EXAMPLE:
  tiers := rewards.StandardLadder("silver", "فضي", 2, 2025,
      rewards.Bracket{Min: 20, Max: 49, Rate: "0.25"},
      rewards.Bracket{Min: 50, Max: 99, Rate: "0.50"},
      rewards.Bracket{Min: 100, Rate: "0.75"},
  )
  for _, t := range tiers {
      _, _ = engine.CreateTier(ctx, t)
  }

SEE ALSO:
  - tiers.go: Validation and resolution
  - factory/: YAML scenario documents
*/
package rewards

import (
	"time"

	"github.com/warp/reward-engine/generic"
)

// Bracket is one carton range of a ladder. Max 0 means open ended.
type Bracket struct {
	Min  int64
	Max  int64
	Rate string
}

// StandardLadder builds active tiers for one category from brackets.
// IDs are left empty so CreateTier assigns them.
func StandardLadder(name, nameAr string, quarter, year int, brackets ...Bracket) []generic.RewardTier {
	tiers := make([]generic.RewardTier, 0, len(brackets))
	for _, b := range brackets {
		t := generic.RewardTier{
			Name:              name,
			NameAr:            nameAr,
			Quarter:           quarter,
			Year:              year,
			MinCartons:        b.Min,
			CashbackPerCarton: generic.MustParseDecimal(b.Rate),
			IsActive:          true,
		}
		if b.Max > 0 {
			maxCartons := b.Max
			t.MaxCartons = &maxCartons
		}
		tiers = append(tiers, t)
	}
	return tiers
}

// GoldLadder is the single open-ended Gold bracket from minCartons up.
func GoldLadder(quarter, year int, minCartons int64, rate string) []generic.RewardTier {
	return StandardLadder("Gold", "ذهبي", quarter, year, Bracket{Min: minCartons, Rate: rate})
}

// CopyLadder re-issues tiers for another quarter. IDs and timestamps are
// cleared; inactive tiers are dropped.
func CopyLadder(tiers []generic.RewardTier, quarter, year int) []generic.RewardTier {
	out := make([]generic.RewardTier, 0, len(tiers))
	for _, t := range tiers {
		if !t.IsActive {
			continue
		}
		c := t
		c.ID = ""
		c.Quarter = quarter
		c.Year = year
		c.CreatedAt, c.UpdatedAt = time.Time{}, time.Time{}
		if t.MaxCartons != nil {
			v := *t.MaxCartons
			c.MaxCartons = &v
		}
		out = append(out, c)
	}
	return out
}
