package catalog

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestPriceRuleLocalize(t *testing.T) {
	tests := []struct {
		name   string
		rule   PriceRule
		source string
		rate   string
		want   string
	}{
		{
			name:   "ceiling to hundreds",
			rule:   PriceRule{MinPrice: dec("200"), Granularity: 100, Ceiling: true},
			source: "2.50", rate: "4000", want: "10000",
		},
		{
			name:   "ceiling rounds partial hundreds up",
			rule:   PriceRule{MinPrice: dec("200"), Granularity: 100, Ceiling: true},
			source: "2.51", rate: "4000", want: "10100",
		},
		{
			name:   "half-up rounding to hundreds",
			rule:   PriceRule{MinPrice: dec("200"), Granularity: 100, Ceiling: false},
			source: "2.51", rate: "4000", want: "10000",
		},
		{
			name:   "unit granularity rounds to whole units",
			rule:   PriceRule{MinPrice: dec("200"), Granularity: 1, Ceiling: false},
			source: "0.177", rate: "4000", want: "708",
		},
		{
			name:   "clamps below minimum to exactly the minimum",
			rule:   PriceRule{MinPrice: dec("200"), Granularity: 100, Ceiling: true},
			source: "0.01", rate: "4000", want: "200",
		},
		{
			name:   "zero granularity treated as unit",
			rule:   PriceRule{MinPrice: dec("0"), Granularity: 0, Ceiling: false},
			source: "1.4", rate: "10", want: "14",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.rule.Localize(dec(tt.source), dec(tt.rate))
			assert.True(t, dec(tt.want).Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestNormalizerNormalize(t *testing.T) {
	group := Group{ID: 3, Name: "Base Set", Abbreviation: "BS"}
	rule := PriceRule{MinPrice: dec("200"), Granularity: 100, Ceiling: true}
	n := NewNormalizer(dec("4000"), rule)

	t.Run("produces entry for sellable row", func(t *testing.T) {
		row := RawRow{
			ColProductID:   "101",
			ColName:        "Charizard - Holo",
			ColCleanName:   "Charizard",
			ColNumber:      "4/102",
			ColMarketPrice: "2.50",
			ColImageURL:    "https://img.example/101.jpg",
		}

		entry, ok := n.Normalize(row, group)
		require.True(t, ok)
		assert.Equal(t, "101-normal-bs", entry.ExternalKey)
		assert.Equal(t, "Charizard 4/102 Base Set", entry.Title)
		assert.True(t, dec("2.50").Equal(entry.SourcePrice))
		assert.True(t, dec("10000").Equal(entry.LocalPrice))
		assert.Equal(t, "https://img.example/101.jpg", entry.ImageURL)
		assert.Equal(t, "Base Set", entry.GroupName)
		assert.Equal(t, "4/102", entry.Attributes["number"])
	})

	t.Run("discards row with missing number", func(t *testing.T) {
		row := RawRow{ColProductID: "102", ColName: "Blastoise", ColMarketPrice: "3.00"}
		_, ok := n.Normalize(row, group)
		assert.False(t, ok)
	})

	t.Run("discards row whose number has no slash", func(t *testing.T) {
		row := RawRow{ColProductID: "102", ColName: "Blastoise", ColNumber: "102", ColMarketPrice: "3.00"}
		_, ok := n.Normalize(row, group)
		assert.False(t, ok)
	})

	t.Run("discards row with unparsable price", func(t *testing.T) {
		row := RawRow{ColProductID: "103", ColNumber: "9/102", ColMarketPrice: "n/a"}
		_, ok := n.Normalize(row, group)
		assert.False(t, ok)
	})

	t.Run("discards row with zero price", func(t *testing.T) {
		row := RawRow{ColProductID: "103", ColNumber: "9/102", ColMarketPrice: "0"}
		_, ok := n.Normalize(row, group)
		assert.False(t, ok)
	})

	t.Run("discards row with negative price", func(t *testing.T) {
		row := RawRow{ColProductID: "103", ColNumber: "9/102", ColMarketPrice: "-1.20"}
		_, ok := n.Normalize(row, group)
		assert.False(t, ok)
	})

	t.Run("variant label feeds key and attributes", func(t *testing.T) {
		row := RawRow{
			ColProductID:   "104",
			ColCleanName:   "Venusaur",
			ColNumber:      "15/102",
			ColMarketPrice: "1.10",
			ColSubType:     "Reverse Holofoil",
		}

		entry, ok := n.Normalize(row, group)
		require.True(t, ok)
		assert.Equal(t, "104-reverse-holofoil-bs", entry.ExternalKey)
		assert.Equal(t, "Reverse Holofoil", entry.Attributes["variant"])
	})
}

func TestBuildTitle(t *testing.T) {
	group := Group{ID: 3, Name: "Base Set", Abbreviation: "BS"}

	tests := []struct {
		name string
		row  RawRow
		want string
	}{
		{
			name: "clean name preferred over raw name",
			row:  RawRow{ColName: "Pikachu (promo)", ColCleanName: "Pikachu", ColNumber: "58/102"},
			want: "Pikachu 58/102 Base Set",
		},
		{
			name: "falls back to raw name",
			row:  RawRow{ColName: "Pikachu", ColNumber: "58/102"},
			want: "Pikachu 58/102 Base Set",
		},
		{
			name: "collapses internal whitespace",
			row:  RawRow{ColCleanName: "Dark   Charizard", ColNumber: "4/82"},
			want: "Dark Charizard 4/82 Base Set",
		},
		{
			name: "dash separator becomes pipe",
			row:  RawRow{ColCleanName: "Brock - Gym Leader", ColNumber: "97/132"},
			want: "Brock | Gym Leader 97/132 Base Set",
		},
		{
			name: "number skipped when name already carries it",
			row:  RawRow{ColCleanName: "Mew 8/8", ColNumber: "8/8"},
			want: "Mew 8/8 Base Set",
		},
		{
			name: "variant appended after number",
			row:  RawRow{ColCleanName: "Alakazam", ColNumber: "1/102", ColSubType: "Holofoil"},
			want: "Alakazam 1/102 Holofoil Base Set",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildTitle(tt.row, group))
		})
	}
}
