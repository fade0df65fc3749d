package delta

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		op      Operation
		wantErr bool
	}{
		{
			name: "valid add",
			op:   Operation{Action: ActionAdd, BulletID: "s1", SectionName: "core", Content: "always check inputs"},
		},
		{
			name:    "add without section",
			op:      Operation{Action: ActionAdd, BulletID: "s1", Content: "x"},
			wantErr: true,
		},
		{
			name:    "add without content",
			op:      Operation{Action: ActionAdd, BulletID: "s1", SectionName: "core"},
			wantErr: true,
		},
		{
			name: "valid update content only",
			op:   Operation{Action: ActionUpdate, BulletID: "s1", Content: "revised"},
		},
		{
			name: "valid update metadata only",
			op:   Operation{Action: ActionUpdate, BulletID: "s1", Metadata: map[string]any{"k": "v"}},
		},
		{
			name: "valid update section move only",
			op:   Operation{Action: ActionUpdate, BulletID: "s1", SectionName: "edge_cases"},
		},
		{
			name:    "update with no fields",
			op:      Operation{Action: ActionUpdate, BulletID: "s1"},
			wantErr: true,
		},
		{
			name: "valid tag helpful",
			op:   Operation{Action: ActionTag, BulletID: "s1", HelpfulDelta: 1},
		},
		{
			name: "valid tag negative harmful",
			op:   Operation{Action: ActionTag, BulletID: "s1", HarmfulDelta: -1},
		},
		{
			name:    "tag with zero deltas",
			op:      Operation{Action: ActionTag, BulletID: "s1"},
			wantErr: true,
		},
		{
			name: "valid remove",
			op:   Operation{Action: ActionRemove, BulletID: "s1"},
		},
		{
			name:    "missing bullet id",
			op:      Operation{Action: ActionRemove},
			wantErr: true,
		},
		{
			name:    "unknown action",
			op:      Operation{Action: "MERGE", BulletID: "s1"},
			wantErr: true,
		},
		{
			name:    "empty action",
			op:      Operation{BulletID: "s1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if tt.wantErr && err == nil {
				t.Errorf("Validate() = nil, want error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	_, err := New(Operation{Action: ActionAdd, BulletID: "s1"})
	if err == nil {
		t.Fatal("New() = nil error for incomplete ADD")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("New() error = %T, want *ValidationError", err)
	}
	if verr.Action != ActionAdd {
		t.Errorf("ValidationError.Action = %q, want %q", verr.Action, ActionAdd)
	}
}

func TestDedupeKey(t *testing.T) {
	a := Operation{Action: ActionTag, BulletID: "s1", HelpfulDelta: 1}
	b := Operation{Action: ActionTag, BulletID: "s1", HarmfulDelta: 2}
	c := Operation{Action: ActionUpdate, BulletID: "s1", Content: "x"}

	if a.DedupeKey() != b.DedupeKey() {
		t.Error("same action and bullet should share a dedupe key")
	}
	if a.DedupeKey() == c.DedupeKey() {
		t.Error("different actions must not share a dedupe key")
	}
}
