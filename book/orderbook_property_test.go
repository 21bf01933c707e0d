package book

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"bookflow/models"
)

// Properties that must hold for any sequence of updates on a single ticker
// side: the stored volume for a price always equals the last non-zero
// update, a zero update removes the level, and the best-first ordering of
// levels is strictly monotone.

func TestBook_LastUpdateWins_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("volume at a price equals the last applied update", prop.ForAll(
		func(prices []int, volumes []int) bool {
			n := len(prices)
			if len(volumes) < n {
				n = len(volumes)
			}
			if n == 0 {
				return true
			}

			b := New()
			want := make(map[float64]float64)
			for i := 0; i < n; i++ {
				price := float64(1 + prices[i]%50)
				volume := float64(volumes[i] % 20)
				if volume < 0 {
					volume = -volume
				}
				if err := b.ApplyUpdates([]models.BookUpdate{
					models.Update("T", models.SideBid, price, volume),
				}); err != nil {
					return false
				}
				if volume == 0 {
					delete(want, price)
				} else {
					want[price] = volume
				}
			}

			levels := b.Levels("T", models.SideBid)
			if len(levels) != len(want) {
				return false
			}
			for _, lvl := range levels {
				if want[lvl.Price] != lvl.Volume {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.Property("levels are strictly ordered best-first", prop.ForAll(
		func(prices []int) bool {
			b := New()
			for _, p := range prices {
				price := float64(1 + p%100)
				if err := b.ApplyUpdates([]models.BookUpdate{
					models.Update("T", models.SideBid, price, 1),
					models.Update("T", models.SideAsk, price, 1),
				}); err != nil {
					return false
				}
			}

			bids := b.Levels("T", models.SideBid)
			for i := 1; i < len(bids); i++ {
				if bids[i].Price >= bids[i-1].Price {
					return false
				}
			}
			asks := b.Levels("T", models.SideAsk)
			for i := 1; i < len(asks); i++ {
				if asks[i].Price <= asks[i-1].Price {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}
