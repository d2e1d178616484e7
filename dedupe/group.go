// Package dedupe confirms and resolves duplicate candidates: it partitions
// fingerprinted messages into groups, bounds the divergence within each
// group, and applies a deterministic selection strategy to pick a survivor.
package dedupe

import (
	"github.com/mailkit/mdedup/hash"
	"github.com/mailkit/mdedup/model"
)

// Group is an ordered set of messages sharing one fingerprint. Member order
// is the order messages were observed.
type Group struct {
	Fingerprint hash.Fingerprint
	Members     []model.Message
}

// Grouper partitions messages by exact fingerprint equality. Group order is
// insertion order of the first-seen fingerprint, for reproducibility.
type Grouper struct {
	index  map[hash.Fingerprint]int
	groups []*Group
}

func NewGrouper() *Grouper {
	return &Grouper{index: make(map[hash.Fingerprint]int)}
}

func (g *Grouper) Add(fp hash.Fingerprint, msg model.Message) {
	idx, ok := g.index[fp]
	if !ok {
		idx = len(g.groups)
		g.index[fp] = idx
		g.groups = append(g.groups, &Group{Fingerprint: fp})
	}
	g.groups[idx].Members = append(g.groups[idx].Members, msg)
}

// Groups returns all groups in first-seen order, singletons included.
func (g *Grouper) Groups() []*Group {
	return g.groups
}

// Duplicates counts messages beyond the first of each group.
func (g *Grouper) Duplicates() int {
	n := 0
	for _, grp := range g.groups {
		if len(grp.Members) > 1 {
			n += len(grp.Members) - 1
		}
	}
	return n
}
