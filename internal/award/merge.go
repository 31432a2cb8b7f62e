package award

import (
	"sort"

	"github.com/lvdashuaibi/luckydraw/internal/model"
)

// Merge 名次位与候选人联合，只保留已指定候选人的名次位
// 排序为 (eventLabel, category, rank 降序)，揭晓时从第三名开始
func Merge(slots []model.AwardWinnerSlot, nominees []model.AwardNominee) []model.MergedAwardWinner {
	byID := make(map[string]model.AwardNominee, len(nominees))
	for _, n := range nominees {
		byID[n.ID] = n
	}

	merged := make([]model.MergedAwardWinner, 0, len(slots))
	for _, s := range slots {
		if s.CandidateID == "" {
			continue
		}
		n, ok := byID[s.CandidateID]
		if !ok {
			continue
		}
		merged = append(merged, model.MergedAwardWinner{
			SlotID:     s.ID,
			Rank:       s.Rank,
			Category:   s.Category,
			EventLabel: s.EventLabel,
			NomineeID:  n.ID,
			Name:       n.Name,
			Company:    n.Company,
		})
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.EventLabel != b.EventLabel {
			return a.EventLabel < b.EventLabel
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Rank > b.Rank
	})
	return merged
}

// Group 一个奖项下按揭晓顺序排列的获奖者
type Group struct {
	EventLabel string
	Category   string
	Winners    []model.MergedAwardWinner
}

// GroupByCategory 按 Merge 的顺序分组
func GroupByCategory(merged []model.MergedAwardWinner) []Group {
	var groups []Group
	for _, w := range merged {
		n := len(groups)
		if n > 0 && groups[n-1].EventLabel == w.EventLabel && groups[n-1].Category == w.Category {
			groups[n-1].Winners = append(groups[n-1].Winners, w)
			continue
		}
		groups = append(groups, Group{
			EventLabel: w.EventLabel,
			Category:   w.Category,
			Winners:    []model.MergedAwardWinner{w},
		})
	}
	return groups
}

// AvailableCandidates 名次位下拉框可选的候选人：未被其他名次位占用的
// 仅用于界面提示，写入时不做限制
func AvailableCandidates(nominees []model.AwardNominee, slots []model.AwardWinnerSlot, slotID string) []model.AwardNominee {
	taken := make(map[string]bool, len(slots))
	for _, s := range slots {
		if s.ID == slotID || s.CandidateID == "" {
			continue
		}
		taken[s.CandidateID] = true
	}

	out := make([]model.AwardNominee, 0, len(nominees))
	for _, n := range nominees {
		if !taken[n.ID] {
			out = append(out, n)
		}
	}
	return out
}

// HistoryEntries 由一个奖项的获奖者生成揭晓记录
func HistoryEntries(g Group) []model.AwardHistoryEntry {
	entries := make([]model.AwardHistoryEntry, 0, len(g.Winners))
	for _, w := range g.Winners {
		entries = append(entries, model.AwardHistoryEntry{
			Name:       w.Name,
			Company:    w.Company,
			Category:   w.Category,
			Rank:       w.Rank,
			EventLabel: w.EventLabel,
		})
	}
	return entries
}

// hasHistory 奖项是否已有揭晓记录
func hasHistory(history []model.AwardHistoryEntry, eventLabel, category string) bool {
	for _, h := range history {
		if h.Category == category && h.EventLabel == eventLabel {
			return true
		}
	}
	return false
}

// AllRevealed 至少有一个奖项，且每个奖项都有揭晓记录
func AllRevealed(groups []Group, history []model.AwardHistoryEntry) bool {
	if len(groups) == 0 {
		return false
	}
	for _, g := range groups {
		if !hasHistory(history, g.EventLabel, g.Category) {
			return false
		}
	}
	return true
}
