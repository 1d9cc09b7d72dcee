// Package automation fills and submits the annotation page's step-by-step
// form: each step fills the newest group container, submits it and waits for
// the page to append the next one.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Values are the popup fields handed to a run.
type Values struct {
	TaskID              string `json:"taskId"`
	AnnotatorOrReviewer string `json:"annotatorOrReviewer"`
	QANumber            string `json:"qaNumber"`
	ImageAndPrompt      string `json:"imageAndPrompt"`
	ImageDataURL        string `json:"imageDataUrl"`
	ImageFileName       string `json:"imageFileName"`
	RewriteAnswer       string `json:"rewriteAnswer"`
}

func (v Values) field(f Field) string {
	switch f {
	case FieldTaskID:
		return v.TaskID
	case FieldRole:
		return v.AnnotatorOrReviewer
	case FieldQANumber:
		return v.QANumber
	case FieldPrompt:
		return v.ImageAndPrompt
	case FieldAnswer:
		return v.RewriteAnswer
	}
	return ""
}

// Machine runs a Plan against a Page.
type Machine struct {
	Plan   Plan
	Logger *slog.Logger
}

// New returns a Machine for plan.
func New(plan Plan, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{Plan: plan, Logger: logger}
}

// Run executes every step in order. The first failure aborts the run;
// steps already submitted stay submitted.
func (m *Machine) Run(ctx context.Context, page Page, v Values) error {
	if err := m.Plan.Validate(); err != nil {
		return err
	}
	log := m.Logger.With("run", uuid.NewString())
	plan := m.Plan

	base, err := page.Count(ctx, plan.GroupSelector)
	if err != nil {
		return startErr(fmt.Errorf("count groups: %w", err))
	}
	if base == 0 {
		return startErr(fmt.Errorf("%w: no group matches %q", ErrElementNotFound, plan.GroupSelector))
	}
	log.Info("automation started", "groups", base, "steps", len(plan.Steps))

	last := base - 1
	for i, step := range plan.Steps {
		g := Group{Selector: plan.GroupSelector, Index: last}
		log.Debug("step", "n", i+1, "name", step.Name, "group", g.Index)

		if err := m.fill(ctx, page, g, step, v); err != nil {
			return m.stepErr(i, err)
		}
		if err := sleep(ctx, step.PreSubmitDelay); err != nil {
			return m.stepErr(i, err)
		}
		if err := page.Click(ctx, g, plan.SubmitSelector, 0); err != nil {
			return m.stepErr(i, fmt.Errorf("submit %q: %w", plan.SubmitSelector, err))
		}

		want := base + i + 1
		var got int
		err := Until(ctx, plan.PollInterval, plan.GroupTimeout, func(ctx context.Context) (bool, error) {
			n, err := page.Count(ctx, plan.GroupSelector)
			got = n
			return n >= want, err
		})
		if errors.Is(err, ErrTimeout) {
			return m.stepErr(i, fmt.Errorf("%w waiting for %d groups; found %d", ErrTimeout, want, got))
		}
		if err != nil {
			return m.stepErr(i, err)
		}
		last = got - 1
		log.Info("step submitted", "n", i+1, "name", step.Name, "groups", got)
	}
	log.Info("automation finished", "groups", last+1)
	return nil
}

func (m *Machine) stepErr(i int, err error) error {
	return &StepError{Step: i + 1, Name: m.Plan.Steps[i].Name, Err: err}
}

// startErr reports a failure before the first step touched the page.
func startErr(err error) error {
	return &StepError{Step: 0, Name: "start", Err: err}
}

func (m *Machine) fill(ctx context.Context, page Page, g Group, step Step, v Values) error {
	value := v.field(step.Field)
	switch step.Kind {
	case KindText:
		return m.fillControl(ctx, page, g, step.Control, value)
	case KindNumber:
		return m.fillControl(ctx, page, g, step.Control, normalizeText(value))
	case KindChoice:
		return m.choose(ctx, page, g, step.Control, value)
	case KindPromptImage:
		if err := m.fillControl(ctx, page, g, step.Control, value); err != nil {
			return err
		}
		if strings.TrimSpace(v.ImageDataURL) == "" {
			return nil
		}
		name := normalizeText(v.ImageFileName)
		if name == "" {
			name = m.Plan.DefaultFileName
		}
		f, err := DecodeDataURL(v.ImageDataURL, name)
		if err != nil {
			return err
		}
		return m.upload(ctx, page, g, f)
	}
	return fmt.Errorf("unknown step kind %q", step.Kind)
}

func (m *Machine) fillControl(ctx context.Context, page Page, g Group, control, value string) error {
	if err := page.Fill(ctx, g, control, value); err != nil {
		return fmt.Errorf("fill %q: %w", control, err)
	}
	return nil
}

func (m *Machine) choose(ctx context.Context, page Page, g Group, control, value string) error {
	labels, err := page.Labels(ctx, g, control)
	if err != nil {
		return fmt.Errorf("read %q: %w", control, err)
	}
	idx := make(map[string]int, len(labels))
	for i, l := range labels {
		key := strings.ToLower(normalizeText(l))
		if _, seen := idx[key]; !seen {
			idx[key] = i
		}
	}
	for _, want := range m.Plan.ChoiceLabels {
		if _, ok := idx[strings.ToLower(want)]; !ok {
			return fmt.Errorf("%w: no %q button labeled %q", ErrElementNotFound, control, want)
		}
	}

	choice := strings.ToLower(normalizeText(value))
	for _, want := range m.Plan.ChoiceLabels {
		if choice != "" && choice == strings.ToLower(want) {
			if err := page.Click(ctx, g, control, idx[choice]); err != nil {
				return fmt.Errorf("click %q: %w", want, err)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %q must be one of %s", ErrInvalidChoice, value, strings.Join(m.Plan.ChoiceLabels, ", "))
}

func (m *Machine) upload(ctx context.Context, page Page, g Group, f File) error {
	sel := m.Plan.FileInputSelector
	err := Until(ctx, m.Plan.PollInterval, m.Plan.FileInputTimeout, func(ctx context.Context) (bool, error) {
		return page.HasFileInput(ctx, g, sel)
	})
	switch {
	case err == nil:
		if err := page.AttachFile(ctx, g, sel, f); err != nil {
			return fmt.Errorf("attach %s: %w", f.Name, err)
		}
		return nil
	case errors.Is(err, ErrTimeout):
		m.Logger.Debug("no file input, dropping file", "file", f.Name)
		if err := page.DropFile(ctx, g, m.Plan.UploadButton, f); err != nil {
			return fmt.Errorf("drop %s: %w", f.Name, err)
		}
		return nil
	default:
		return err
	}
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
