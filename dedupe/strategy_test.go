package dedupe

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailkit/mdedup/model"
)

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		id   string
		want Strategy
	}{
		{"", StrategyNone},
		{"keep-oldest", StrategyOldestFirst},
		{"keep-older", StrategyOldestFirst},
		{"discard-newest", StrategyOldestFirst},
		{"discard-newer", StrategyOldestFirst},
		{"keep-newest", StrategyNewestFirst},
		{"discard-oldest", StrategyNewestFirst},
		{"keep-biggest", StrategyBiggestFirst},
		{"discard-smallest", StrategyBiggestFirst},
		{"keep-smallest", StrategySmallestFirst},
		{"discard-biggest", StrategySmallestFirst},
		{"keep-matching-path", StrategyMatchingPath},
		{"discard-non-matching-path", StrategyMatchingPath},
		{"keep-non-matching-path", StrategyNonMatchingPath},
		{"discard-matching-path", StrategyNonMatchingPath},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.id)
		require.NoError(t, err, "ParseStrategy(%q)", tt.id)
		assert.Equal(t, tt.want, got, "ParseStrategy(%q)", tt.id)
	}

	_, err := ParseStrategy("keep-shiniest")
	assert.Error(t, err)
}

func TestStrategy_NeedsRegexp(t *testing.T) {
	assert.True(t, StrategyMatchingPath.NeedsRegexp())
	assert.True(t, StrategyNonMatchingPath.NeedsRegexp())
	assert.False(t, StrategyOldestFirst.NeedsRegexp())
	assert.False(t, StrategyNone.NeedsRegexp())
}

func datedMsg(key string, date time.Time, seq int) model.Message {
	return model.Message{SourcePath: "/tmp/box", Key: key, Date: date, Seq: seq}
}

func TestOrder_ByDate(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	members := []model.Message{
		datedMsg("mid", t0.Add(time.Hour), 0),
		datedMsg("old", t0, 1),
		datedMsg("new", t0.Add(2*time.Hour), 2),
	}

	oldest := Order(members, StrategyOldestFirst, nil)
	assert.Equal(t, "old", oldest[0].Key)

	newest := Order(members, StrategyNewestFirst, nil)
	assert.Equal(t, "new", newest[0].Key)
}

func TestOrder_BySize(t *testing.T) {
	members := []model.Message{
		{Key: "mid", Size: 200, Seq: 0},
		{Key: "small", Size: 100, Seq: 1},
		{Key: "big", Size: 300, Seq: 2},
	}

	assert.Equal(t, "big", Order(members, StrategyBiggestFirst, nil)[0].Key)
	assert.Equal(t, "small", Order(members, StrategySmallestFirst, nil)[0].Key)
}

func TestOrder_ByPathMatch(t *testing.T) {
	re := regexp.MustCompile(`/archive/`)
	members := []model.Message{
		{Key: "1", Path: "/mail/inbox/cur/a", Seq: 0},
		{Key: "2", Path: "/mail/archive/cur/b", Seq: 1},
	}

	matching := Order(members, StrategyMatchingPath, re)
	assert.Equal(t, "2", matching[0].Key)

	nonMatching := Order(members, StrategyNonMatchingPath, re)
	assert.Equal(t, "1", nonMatching[0].Key)
}

func TestOrder_TieBreaksOnPath(t *testing.T) {
	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := model.Message{Key: "1", Path: "/mail/b/cur/x", Date: date, Seq: 0}
	b := model.Message{Key: "2", Path: "/mail/a/cur/x", Date: date, Seq: 1}

	// Equal dates in both arrival orders: lexicographically smaller path wins.
	assert.Equal(t, "2", Order([]model.Message{a, b}, StrategyOldestFirst, nil)[0].Key)
	assert.Equal(t, "2", Order([]model.Message{b, a}, StrategyOldestFirst, nil)[0].Key)
}

func TestOrder_DeterministicAcrossArrivalOrder(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	members := []model.Message{
		datedMsg("a", t0, 0),
		datedMsg("b", t0.Add(time.Hour), 1),
		datedMsg("c", t0.Add(2*time.Hour), 2),
	}
	reversed := []model.Message{members[2], members[1], members[0]}

	fwd := Order(members, StrategyNewestFirst, nil)
	rev := Order(reversed, StrategyNewestFirst, nil)
	require.Equal(t, len(fwd), len(rev))
	for i := range fwd {
		assert.Equal(t, fwd[i].Key, rev[i].Key, "position %d", i)
	}
}

func TestOrder_DoesNotMutateInput(t *testing.T) {
	members := []model.Message{
		{Key: "b", Size: 100, Seq: 0},
		{Key: "a", Size: 200, Seq: 1},
	}
	Order(members, StrategyBiggestFirst, nil)
	assert.Equal(t, "b", members[0].Key, "input slice untouched")
}
