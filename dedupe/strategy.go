package dedupe

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/mailkit/mdedup/model"
)

// Strategy orders the members of a confirmed group; the first member after
// ordering is the survivor.
type Strategy string

const (
	// StrategyNone groups and counts duplicates without selecting.
	StrategyNone Strategy = ""

	StrategyOldestFirst     Strategy = "keep-oldest"
	StrategyNewestFirst     Strategy = "keep-newest"
	StrategyBiggestFirst    Strategy = "keep-biggest"
	StrategySmallestFirst   Strategy = "keep-smallest"
	StrategyMatchingPath    Strategy = "keep-matching-path"
	StrategyNonMatchingPath Strategy = "keep-non-matching-path"
)

// strategyAliases maps every accepted strategy id to its canonical form.
// The historical discard-* spellings name the same orderings from the other
// end: discarding the older mails keeps the newest one, and so on. With a
// single survivor per group the -er/-est distinction collapses too.
var strategyAliases = map[string]Strategy{
	"keep-oldest":      StrategyOldestFirst,
	"keep-older":       StrategyOldestFirst,
	"discard-newer":    StrategyOldestFirst,
	"discard-newest":   StrategyOldestFirst,
	"keep-newest":      StrategyNewestFirst,
	"keep-newer":       StrategyNewestFirst,
	"discard-older":    StrategyNewestFirst,
	"discard-oldest":   StrategyNewestFirst,
	"keep-biggest":     StrategyBiggestFirst,
	"keep-bigger":      StrategyBiggestFirst,
	"discard-smaller":  StrategyBiggestFirst,
	"discard-smallest": StrategyBiggestFirst,
	"keep-smallest":    StrategySmallestFirst,
	"keep-smaller":     StrategySmallestFirst,
	"discard-bigger":   StrategySmallestFirst,
	"discard-biggest":  StrategySmallestFirst,
	"keep-matching-path":        StrategyMatchingPath,
	"discard-non-matching-path": StrategyMatchingPath,
	"keep-non-matching-path":    StrategyNonMatchingPath,
	"discard-matching-path":     StrategyNonMatchingPath,
}

// ParseStrategy resolves a strategy id or alias. The empty string selects
// StrategyNone.
func ParseStrategy(id string) (Strategy, error) {
	if id == "" {
		return StrategyNone, nil
	}
	s, ok := strategyAliases[id]
	if !ok {
		return StrategyNone, fmt.Errorf("unknown strategy %q", id)
	}
	return s, nil
}

// NeedsRegexp reports whether the strategy matches against file paths.
func (s Strategy) NeedsRegexp() bool {
	return s == StrategyMatchingPath || s == StrategyNonMatchingPath
}

// Order returns the members sorted by the strategy's primary criterion,
// survivor first. Ties fall back to the member's store path and then its
// observed insertion order, so the same input always yields the same
// survivor regardless of arrival order.
func Order(members []model.Message, s Strategy, re *regexp.Regexp) []model.Message {
	ordered := make([]model.Message, len(members))
	copy(ordered, members)

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		switch s {
		case StrategyOldestFirst:
			if !a.Date.Equal(b.Date) {
				return a.Date.Before(b.Date)
			}
		case StrategyNewestFirst:
			if !a.Date.Equal(b.Date) {
				return a.Date.After(b.Date)
			}
		case StrategyBiggestFirst:
			if a.Size != b.Size {
				return a.Size > b.Size
			}
		case StrategySmallestFirst:
			if a.Size != b.Size {
				return a.Size < b.Size
			}
		case StrategyMatchingPath:
			am, bm := re.MatchString(pathOf(a)), re.MatchString(pathOf(b))
			if am != bm {
				return am
			}
		case StrategyNonMatchingPath:
			am, bm := re.MatchString(pathOf(a)), re.MatchString(pathOf(b))
			if am != bm {
				return bm
			}
		}
		if pa, pb := pathOf(a), pathOf(b); pa != pb {
			return pa < pb
		}
		return a.Seq < b.Seq
	})

	return ordered
}

func pathOf(m model.Message) string {
	if m.Path != "" {
		return m.Path
	}
	return m.ID()
}
