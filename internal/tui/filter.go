package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/list"

	"github.com/rancher/auto-rebase/internal/branches"
)

// multiTermFilter keeps the branches containing every whitespace-separated
// term, in their original order, and highlights the first occurrence of each
// term.
func multiTermFilter(term string, targets []string) []list.Rank {
	terms := strings.Fields(strings.ToLower(term))

	ranks := make([]list.Rank, 0, len(targets))
	for i, target := range targets {
		if !branches.MatchesAll(target, terms) {
			continue
		}
		lower := strings.ToLower(target)
		var matched []int
		for _, t := range terms {
			start := strings.Index(lower, t)
			for j := start; j < start+len(t); j++ {
				matched = append(matched, j)
			}
		}
		ranks = append(ranks, list.Rank{Index: i, MatchedIndexes: matched})
	}
	return ranks
}

type branchItem string

func (b branchItem) Title() string       { return string(b) }
func (b branchItem) Description() string { return "" }
func (b branchItem) FilterValue() string { return string(b) }
