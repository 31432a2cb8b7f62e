package award

import (
	"testing"

	"github.com/lvdashuaibi/luckydraw/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestMergeFiltersAndSorts(t *testing.T) {
	nominees := []model.AwardNominee{
		{ID: "n1", Name: "Ann", Company: "Ann"},
		{ID: "n2", Name: "Bob", Company: "Bob"},
		{ID: "n3", Name: "Cara", Company: "Cara"},
	}
	slots := []model.AwardWinnerSlot{
		{ID: "s1", Rank: 1, CandidateID: "n1", Category: "Top Spender", EventLabel: "B"},
		{ID: "s2", Rank: 3, CandidateID: "n2", Category: "Top Spender", EventLabel: "B"},
		{ID: "s3", Rank: 2, CandidateID: "", Category: "Top Spender", EventLabel: "B"},
		{ID: "s4", Rank: 1, CandidateID: "n3", Category: "Rookie", EventLabel: "B"},
		{ID: "s5", Rank: 1, CandidateID: "gone", Category: "Rookie", EventLabel: "A"},
		{ID: "s6", Rank: 2, CandidateID: "n3", Category: "Zeal", EventLabel: "A"},
	}

	merged := Merge(slots, nominees)
	var order []string
	for _, m := range merged {
		order = append(order, m.SlotID)
	}
	assert.Equal(t, []string{"s6", "s4", "s2", "s1"}, order)
	assert.Equal(t, "Bob", merged[2].Name)

	groups := GroupByCategory(merged)
	assert.Len(t, groups, 3)
	assert.Equal(t, "Top Spender", groups[2].Category)
	assert.Len(t, groups[2].Winners, 2)
}

func TestAvailableCandidates(t *testing.T) {
	nominees := []model.AwardNominee{{ID: "n1"}, {ID: "n2"}, {ID: "n3"}}
	slots := []model.AwardWinnerSlot{
		{ID: "s1", CandidateID: "n1"},
		{ID: "s2", CandidateID: "n2"},
		{ID: "s3"},
	}

	ids := func(ns []model.AwardNominee) []string {
		var out []string
		for _, n := range ns {
			out = append(out, n.ID)
		}
		return out
	}

	assert.Equal(t, []string{"n3"}, ids(AvailableCandidates(nominees, slots, "s3")))
	assert.Equal(t, []string{"n1", "n3"}, ids(AvailableCandidates(nominees, slots, "s1")))
}

func TestHistoryEntries(t *testing.T) {
	g := Group{EventLabel: "Gala", Category: "Top Spender", Winners: []model.MergedAwardWinner{
		{Rank: 2, Name: "Bob", Company: "Bob", Category: "Top Spender", EventLabel: "Gala"},
		{Rank: 1, Name: "Ann", Company: "Ann", Category: "Top Spender", EventLabel: "Gala"},
	}}
	entries := HistoryEntries(g)
	assert.Len(t, entries, 2)
	assert.Equal(t, 2, entries[0].Rank)
	assert.Equal(t, "Ann", entries[1].Name)
	assert.True(t, entries[1].RevealedAt.IsZero())
}

func TestAllRevealed(t *testing.T) {
	groups := []Group{
		{EventLabel: "Gala", Category: "Best Team"},
		{EventLabel: "Gala", Category: "Top Spender"},
	}
	history := []model.AwardHistoryEntry{{EventLabel: "Gala", Category: "Top Spender", Rank: 1}}

	assert.False(t, AllRevealed(nil, history))
	assert.False(t, AllRevealed(groups, history))
	history = append(history, model.AwardHistoryEntry{EventLabel: "Gala", Category: "Best Team", Rank: 1})
	assert.True(t, AllRevealed(groups, history))
	// 其他活动的同名奖项不算
	assert.False(t, AllRevealed([]Group{{EventLabel: "Kickoff", Category: "Best Team"}}, history))
}
