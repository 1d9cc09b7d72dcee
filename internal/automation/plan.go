package automation

import (
	"fmt"
	"time"
)

// StepKind selects how a step's control is driven.
type StepKind string

const (
	KindText        StepKind = "text"
	KindChoice      StepKind = "choice"
	KindNumber      StepKind = "number"
	KindPromptImage StepKind = "prompt_image"
)

// Field names the Values field a step writes.
type Field string

const (
	FieldTaskID   Field = "taskId"
	FieldRole     Field = "annotatorOrReviewer"
	FieldQANumber Field = "qaNumber"
	FieldPrompt   Field = "imageAndPrompt"
	FieldAnswer   Field = "rewriteAnswer"
)

// Step is one "fill the newest group, submit, wait for the next" round.
type Step struct {
	Name           string        `yaml:"name" json:"name"`
	Kind           StepKind      `yaml:"kind" json:"kind"`
	Field          Field         `yaml:"field" json:"field"`
	Control        string        `yaml:"control" json:"control"`
	PreSubmitDelay time.Duration `yaml:"pre_submit_delay" json:"preSubmitDelay"`
}

// Plan is the whole protocol against the target page, as data.
type Plan struct {
	GroupSelector     string        `yaml:"group_selector" json:"groupSelector"`
	SubmitSelector    string        `yaml:"submit_selector" json:"submitSelector"`
	ChoiceLabels      []string      `yaml:"choice_labels" json:"choiceLabels"`
	FileInputSelector string        `yaml:"file_input_selector" json:"fileInputSelector"`
	UploadButton      string        `yaml:"upload_button" json:"uploadButton"`
	DefaultFileName   string        `yaml:"default_file_name" json:"defaultFileName"`
	PollInterval      time.Duration `yaml:"poll_interval" json:"pollInterval"`
	GroupTimeout      time.Duration `yaml:"group_timeout" json:"groupTimeout"`
	FileInputTimeout  time.Duration `yaml:"file_input_timeout" json:"fileInputTimeout"`
	Steps             []Step        `yaml:"steps" json:"steps"`
}

// DefaultPlan returns the protocol of the annotation page.
func DefaultPlan() Plan {
	return Plan{
		GroupSelector:     "div.group.w-full.pt-8",
		SubmitSelector:    `button[type="submit"]`,
		ChoiceLabels:      []string{"Annotating", "Reviewing"},
		FileInputSelector: `input[type="file"]`,
		UploadButton:      `button[aria-label="Upload assets"]`,
		DefaultFileName:   "upload.png",
		PollInterval:      100 * time.Millisecond,
		GroupTimeout:      12 * time.Second,
		FileInputTimeout:  4 * time.Second,
		Steps: []Step{
			{Name: "task id", Kind: KindText, Field: FieldTaskID, Control: "textarea"},
			{Name: "annotating or reviewing", Kind: KindChoice, Field: FieldRole, Control: `button[type="button"]`, PreSubmitDelay: 50 * time.Millisecond},
			{Name: "qa number", Kind: KindNumber, Field: FieldQANumber, Control: `input[type="number"]`, PreSubmitDelay: 50 * time.Millisecond},
			{Name: "image and prompt", Kind: KindPromptImage, Field: FieldPrompt, Control: "textarea", PreSubmitDelay: 80 * time.Millisecond},
			{Name: "rewrite answer", Kind: KindText, Field: FieldAnswer, Control: "textarea", PreSubmitDelay: 50 * time.Millisecond},
		},
	}
}

// Validate reports the first structural problem in p.
func (p Plan) Validate() error {
	if p.GroupSelector == "" {
		return fmt.Errorf("plan: group selector is empty")
	}
	if p.SubmitSelector == "" {
		return fmt.Errorf("plan: submit selector is empty")
	}
	if p.PollInterval <= 0 || p.GroupTimeout <= 0 {
		return fmt.Errorf("plan: poll interval and group timeout must be positive")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan: no steps")
	}
	for i, s := range p.Steps {
		if s.Control == "" {
			return fmt.Errorf("plan: step %d (%s) has no control selector", i+1, s.Name)
		}
		switch s.Kind {
		case KindText, KindNumber, KindPromptImage:
		case KindChoice:
			if len(p.ChoiceLabels) == 0 {
				return fmt.Errorf("plan: step %d (%s) needs choice labels", i+1, s.Name)
			}
		default:
			return fmt.Errorf("plan: step %d (%s) has unknown kind %q", i+1, s.Name, s.Kind)
		}
		switch s.Field {
		case FieldTaskID, FieldRole, FieldQANumber, FieldPrompt, FieldAnswer:
		default:
			return fmt.Errorf("plan: step %d (%s) has unknown field %q", i+1, s.Name, s.Field)
		}
	}
	return nil
}
