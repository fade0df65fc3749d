// Package delta defines the validated mutation operations accepted by the
// playbook engine. Operations are constructed and validated at the edge
// (API handlers, MCP tools, curator) so the engine can assume every
// operation in a batch is individually well-formed.
package delta

import (
	"fmt"
	"strings"
)

// Action identifies the kind of mutation an operation requests.
type Action string

const (
	ActionAdd    Action = "ADD"
	ActionUpdate Action = "UPDATE"
	ActionTag    Action = "TAG"
	ActionRemove Action = "REMOVE"
)

func (a Action) valid() bool {
	switch a {
	case ActionAdd, ActionUpdate, ActionTag, ActionRemove:
		return true
	}
	return false
}

// Operation is a single requested mutation against the playbook.
type Operation struct {
	Action             Action         `json:"action"`
	BulletID           string         `json:"bullet_id"`
	SectionName        string         `json:"section_name,omitempty"`
	SectionDisplayName string         `json:"section_display_name,omitempty"`
	Content            string         `json:"content,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	HelpfulDelta       int            `json:"helpful_delta,omitempty"`
	HarmfulDelta       int            `json:"harmful_delta,omitempty"`
}

// ValidationError reports an operation whose payload is incomplete for its
// action.
type ValidationError struct {
	Action Action
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s operation requires %s", e.Action, strings.Join(e.Fields, ", "))
}

// New validates op and returns it, so callers can build operations inline
// without reaching the engine with a malformed one.
func New(op Operation) (Operation, error) {
	if err := op.Validate(); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// Validate enforces the per-action payload requirements:
// ADD needs section_name and content, UPDATE needs at least one mutable
// field, TAG needs a nonzero delta, REMOVE needs only the bullet id.
func (op Operation) Validate() error {
	if !op.Action.valid() {
		return fmt.Errorf("unknown delta action %q", op.Action)
	}
	if op.BulletID == "" {
		return &ValidationError{Action: op.Action, Fields: []string{"bullet_id"}}
	}
	switch op.Action {
	case ActionAdd:
		var missing []string
		if op.SectionName == "" {
			missing = append(missing, "section_name")
		}
		if op.Content == "" {
			missing = append(missing, "content")
		}
		if len(missing) > 0 {
			return &ValidationError{Action: op.Action, Fields: missing}
		}
	case ActionUpdate:
		if op.SectionName == "" && op.SectionDisplayName == "" && op.Content == "" && op.Metadata == nil {
			return &ValidationError{Action: op.Action,
				Fields: []string{"content, metadata, or section updates"}}
		}
	case ActionTag:
		if op.HelpfulDelta == 0 && op.HarmfulDelta == 0 {
			return &ValidationError{Action: op.Action,
				Fields: []string{"helpful_delta or harmful_delta"}}
		}
	}
	return nil
}

// Key identifies operations that target the same bullet with the same action.
type Key struct {
	Action   Action
	BulletID string
}

// DedupeKey returns the batch-level deduplication key.
func (op Operation) DedupeKey() Key {
	return Key{Action: op.Action, BulletID: op.BulletID}
}
