package dedupe

import "fmt"

// ViolationKind tags the closed set of pairwise validation failures.
type ViolationKind string

const (
	SizeDiffAboveThreshold    ViolationKind = "size_diff_above_threshold"
	ContentDiffAboveThreshold ViolationKind = "content_diff_above_threshold"
)

// Violation reports one candidate pair that failed fuzzy validation. It is
// recoverable: the group splits and the run continues.
type Violation struct {
	Kind      ViolationKind
	MessageA  string
	MessageB  string
	Delta     int64
	Threshold int64
}

func (v *Violation) Error() string {
	criterion := "size"
	if v.Kind == ContentDiffAboveThreshold {
		criterion = "content diff"
	}
	return fmt.Sprintf("%s between %s and %s is %d bytes, above the %d byte threshold",
		criterion, v.MessageA, v.MessageB, v.Delta, v.Threshold)
}
