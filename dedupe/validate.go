package dedupe

import (
	"github.com/pmezard/go-difflib/difflib"

	"github.com/mailkit/mdedup/model"
)

// Validator bounds the divergence allowed between two messages sharing a
// fingerprint. Header equality alone is not sufficient: headers that vary
// between copies (Content-Length style counters, list footers) are excluded
// from hashing, so the payloads themselves must stay close.
type Validator struct {
	// SizeThreshold is the maximum allowed byte difference between two
	// payloads. -1 disables the check.
	SizeThreshold int64
	// ContentThreshold is the maximum allowed unified-diff size between
	// two payloads. -1 disables the check.
	ContentThreshold int64
}

// Split confirms g as a true duplicate group or partitions it into
// sub-groups whose members are pairwise within thresholds. Members are
// placed, in observation order, into the first sub-group they are compatible
// with, so the outcome is deterministic. Every failing pair is returned as a
// Violation for reporting; validation failure is never fatal.
func (v Validator) Split(g *Group) ([]*Group, []*Violation) {
	if len(g.Members) < 2 {
		return []*Group{g}, nil
	}

	// Body lines are split once per member; pairwise diffing reuses them.
	var lines [][]string
	if v.ContentThreshold >= 0 {
		lines = make([][]string, len(g.Members))
		for i, m := range g.Members {
			lines[i] = difflib.SplitLines(string(m.Body))
		}
	}

	var (
		subs       [][]int
		violations []*Violation
	)
	for i := range g.Members {
		placed := false
		for s, sub := range subs {
			ok := true
			for _, j := range sub {
				viol := v.compatible(g.Members[j], g.Members[i], lines, j, i)
				if viol != nil {
					violations = append(violations, viol)
					ok = false
					break
				}
			}
			if ok {
				subs[s] = append(subs[s], i)
				placed = true
				break
			}
		}
		if !placed {
			subs = append(subs, []int{i})
		}
	}

	if len(subs) == 1 {
		return []*Group{g}, nil
	}

	groups := make([]*Group, 0, len(subs))
	for _, sub := range subs {
		ng := &Group{Fingerprint: g.Fingerprint}
		for _, i := range sub {
			ng.Members = append(ng.Members, g.Members[i])
		}
		groups = append(groups, ng)
	}
	return groups, violations
}

// compatible checks one pair. The size criterion is cheap and runs first;
// the diff is only materialized when the content criterion is enabled.
func (v Validator) compatible(a, b model.Message, lines [][]string, ai, bi int) *Violation {
	if v.SizeThreshold >= 0 {
		delta := a.Size - b.Size
		if delta < 0 {
			delta = -delta
		}
		if delta > v.SizeThreshold {
			return &Violation{
				Kind:      SizeDiffAboveThreshold,
				MessageA:  a.ID(),
				MessageB:  b.ID(),
				Delta:     delta,
				Threshold: v.SizeThreshold,
			}
		}
	}

	if v.ContentThreshold >= 0 {
		diff := DiffText(lines[ai], lines[bi])
		if int64(len(diff)) > v.ContentThreshold {
			return &Violation{
				Kind:      ContentDiffAboveThreshold,
				MessageA:  a.ID(),
				MessageB:  b.ID(),
				Delta:     int64(len(diff)),
				Threshold: v.ContentThreshold,
			}
		}
	}

	return nil
}

// SplitLines splits a payload into diff-ready lines, keeping terminators.
func SplitLines(s string) []string {
	return difflib.SplitLines(s)
}

// DiffText returns the unified diff between two payloads with zero context
// lines and fixed file labels, so the diff size depends only on content.
func DiffText(a, b []string) string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: "a",
		ToFile:   "b",
		Context:  0,
	})
	if err != nil {
		// The writer is a string builder; this cannot fail in practice.
		return ""
	}
	return text
}
