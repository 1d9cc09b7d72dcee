// Package formstate holds the persisted popup record: values shared across a
// task plus one prompt/answer pair per QA slot.
package formstate

import (
	"strings"
)

// StorageKey is the single key the record lives under.
const StorageKey = "taskFormData"

// DefaultQA is the slot selected when nothing valid was stored.
const DefaultQA = "1"

// QAKeys lists the QA slots in scan order.
var QAKeys = []string{"1", "2", "3", "4", "5"}

// Role is the annotator/reviewer choice. The zero value means nothing is pressed.
type Role string

const (
	RoleNone       Role = ""
	RoleAnnotating Role = "Annotating"
	RoleReviewing  Role = "Reviewing"
)

// Shared carries the fields common to all QA slots of a task.
type Shared struct {
	TaskID              string `json:"taskId"`
	AnnotatorOrReviewer Role   `json:"annotatorOrReviewer"`
	ImageDataURL        string `json:"imageDataUrl"`
	ImageFileName       string `json:"imageFileName"`
	LastQA              string `json:"lastQa"`
}

// QA is the per-slot record.
type QA struct {
	ImageAndPrompt string `json:"imageAndPrompt"`
	RewriteAnswer  string `json:"rewriteAnswer"`
}

// State is the record written under StorageKey.
type State struct {
	Shared Shared        `json:"shared"`
	PerQA  map[string]QA `json:"perQa"`
}

// Form is what the popup controls currently show.
type Form struct {
	TaskID        string
	Role          Role
	ImageDataURL  string
	ImageFileName string
	Prompt        string
	Answer        string
}

// Reset returns the all-empty state with slot "1" selected.
func Reset() State {
	s := State{
		Shared: Shared{LastQA: DefaultQA},
		PerQA:  make(map[string]QA, len(QAKeys)),
	}
	for _, k := range QAKeys {
		s.PerQA[k] = QA{}
	}
	return s
}

// IsValidQA reports whether qa names one of the five slots.
func IsValidQA(qa string) bool {
	for _, k := range QAKeys {
		if qa == k {
			return true
		}
	}
	return false
}

// NormalizeRole maps a free-form choice onto a Role, case-insensitively and
// ignoring surrounding and repeated whitespace. Anything else is RoleNone.
func NormalizeRole(v string) Role {
	switch strings.ToLower(strings.Join(strings.Fields(v), " ")) {
	case "annotating":
		return RoleAnnotating
	case "reviewing":
		return RoleReviewing
	}
	return RoleNone
}

// ToggleRole models the two mutually exclusive popup buttons: pressing the
// active one releases it, pressing the other switches.
func ToggleRole(current, pressed Role) Role {
	if pressed == RoleNone || current == pressed {
		return RoleNone
	}
	return pressed
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := State{Shared: s.Shared, PerQA: make(map[string]QA, len(s.PerQA))}
	for k, v := range s.PerQA {
		out.PerQA[k] = v
	}
	return out
}

// SnapshotFromUI replaces Shared with the control values and merges the
// prompt/answer controls into the active slot.
func (s *State) SnapshotFromUI(f Form, activeQA string) {
	s.Shared = Shared{
		TaskID:              f.TaskID,
		AnnotatorOrReviewer: f.Role,
		ImageDataURL:        f.ImageDataURL,
		ImageFileName:       f.ImageFileName,
		LastQA:              activeQA,
	}
	if s.PerQA == nil {
		s.PerQA = make(map[string]QA, len(QAKeys))
	}
	qa := s.PerQA[activeQA]
	qa.ImageAndPrompt = f.Prompt
	qa.RewriteAnswer = f.Answer
	s.PerQA[activeQA] = qa
}

// FormFor projects the state onto the popup controls with activeQA selected.
func (s State) FormFor(activeQA string) Form {
	qa := s.PerQA[activeQA]
	return Form{
		TaskID:        s.Shared.TaskID,
		Role:          s.Shared.AnnotatorOrReviewer,
		ImageDataURL:  s.Shared.ImageDataURL,
		ImageFileName: s.Shared.ImageFileName,
		Prompt:        qa.ImageAndPrompt,
		Answer:        qa.RewriteAnswer,
	}
}

// StripImage clears both image fields from Shared and reports whether there
// was anything to clear.
func (s *State) StripImage() bool {
	had := s.Shared.ImageDataURL != ""
	s.Shared.ImageDataURL = ""
	s.Shared.ImageFileName = ""
	return had
}
