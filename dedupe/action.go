package dedupe

import (
	"fmt"
	"regexp"

	"github.com/mailkit/mdedup/model"
)

// Action is the operation requested for every non-survivor of a confirmed
// group. The engine only emits requests; executing them is the store
// collaborator's job.
type Action string

const (
	// ActionNone computes and reports fingerprints and resolutions
	// without requesting any mutation.
	ActionNone     Action = "none"
	ActionDelete   Action = "delete"
	ActionSymlink  Action = "symlink"
	ActionHardlink Action = "hardlink"
	ActionMove     Action = "move"
	ActionCopy     Action = "copy"
	ActionExport   Action = "export"
)

var actions = map[string]Action{
	"none":     ActionNone,
	"delete":   ActionDelete,
	"symlink":  ActionSymlink,
	"hardlink": ActionHardlink,
	"move":     ActionMove,
	"copy":     ActionCopy,
	"export":   ActionExport,
}

// ParseAction resolves an action id. The empty string selects ActionNone.
func ParseAction(id string) (Action, error) {
	if id == "" {
		return ActionNone, nil
	}
	a, ok := actions[id]
	if !ok {
		return ActionNone, fmt.Errorf("unknown action %q", id)
	}
	return a, nil
}

// NeedsExport reports whether the action appends non-survivors to an export
// mailbox.
func (a Action) NeedsExport() bool {
	return a == ActionExport
}

// NeedsDest reports whether the action relocates non-survivors to a
// destination directory.
func (a Action) NeedsDest() bool {
	return a == ActionMove || a == ActionCopy
}

// Outcome pairs one non-survivor with the action requested for it.
type Outcome struct {
	Message model.Message
	Action  Action
}

// Resolution is the final decision for one confirmed duplicate group: the
// survivor plus the ordered outcomes for everyone else.
type Resolution struct {
	Survivor model.Message
	Discards []Outcome
}

// Resolve orders the group by strategy and designates exactly one survivor.
// Singleton groups resolve to themselves with no outcomes.
func Resolve(g *Group, s Strategy, re *regexp.Regexp, action Action) Resolution {
	ordered := Order(g.Members, s, re)
	res := Resolution{Survivor: ordered[0]}
	for _, m := range ordered[1:] {
		res.Discards = append(res.Discards, Outcome{Message: m, Action: action})
	}
	return res
}
