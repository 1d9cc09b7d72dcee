package automation_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/13illydakid/p-lizard-ext/internal/automation"
	"github.com/13illydakid/p-lizard-ext/internal/automation/htmlpage"
)

const pngDataURL = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8/5+hHgAHggJ/PchI7wAAAABJRU5ErkJggg=="

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPlan() automation.Plan {
	p := automation.DefaultPlan()
	p.PollInterval = 5 * time.Millisecond
	p.GroupTimeout = 200 * time.Millisecond
	p.FileInputTimeout = 30 * time.Millisecond
	for i := range p.Steps {
		p.Steps[i].PreSubmitDelay = 0
	}
	return p
}

func testValues() automation.Values {
	return automation.Values{
		TaskID:              "TASK-7",
		AnnotatorOrReviewer: "Annotating",
		QANumber:            " 3 ",
		ImageAndPrompt:      "what is in the image?",
		ImageDataURL:        pngDataURL,
		ImageFileName:       "pixel.png",
		RewriteAnswer:       "a single red pixel",
	}
}

// scriptedPage builds a page holding the first group plus an earlier,
// unrelated group, answering every submit with the next fragment.
func scriptedPage(t *testing.T, plan automation.Plan, fragments []string) *htmlpage.Page {
	t.Helper()
	initial, err := htmlpage.Initial(plan)
	if err != nil {
		t.Fatal(err)
	}
	initial = strings.Replace(initial, "<main>", `<main><div class="group w-full pt-8"><p>history</p></div>`, 1)
	p, err := htmlpage.ParseString(initial, htmlpage.Scripted(plan.SubmitSelector, fragments))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func defaultPage(t *testing.T, plan automation.Plan) *htmlpage.Page {
	t.Helper()
	frags, err := htmlpage.Fragments(plan)
	if err != nil {
		t.Fatal(err)
	}
	return scriptedPage(t, plan, frags)
}

func kinds(events []htmlpage.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Kind + ":" + e.Value
	}
	return out
}

func TestRun_FullSequence(t *testing.T) {
	plan := testPlan()
	page := defaultPage(t, plan)
	m := automation.New(plan, quietLogger())

	if err := m.Run(context.Background(), page, testValues()); err != nil {
		t.Fatalf("run: %v", err)
	}

	n, _ := page.Count(context.Background(), plan.GroupSelector)
	if n != 2+5 {
		t.Errorf("expected 7 groups, got %d", n)
	}

	want := []string{
		"fill:TASK-7", "click:Next",
		"click:Annotating", "click:Next",
		"fill:3", "click:Next",
		"fill:what is in the image?", "attach:pixel.png", "click:Next",
		"fill:a single red pixel", "click:Next",
	}
	got := kinds(page.Events())
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("events:\n got %v\nwant %v", got, want)
	}

	// Each step acts on the newest group.
	groups := []int{}
	for _, e := range page.Events() {
		if e.Kind == "click" && e.Value == "Next" {
			groups = append(groups, e.Group)
		}
	}
	for i, g := range groups {
		if g != 1+i {
			t.Errorf("submit %d hit group %d, want %d", i+1, g, 1+i)
		}
	}
}

func TestRun_NoGroups(t *testing.T) {
	plan := testPlan()
	page, err := htmlpage.ParseString(`<html><body><div class="group">nope</div></body></html>`, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = automation.New(plan, quietLogger()).Run(context.Background(), page, testValues())
	if !errors.Is(err, automation.ErrElementNotFound) {
		t.Fatalf("expected ErrElementNotFound, got %v", err)
	}
	var se *automation.StepError
	if !errors.As(err, &se) || se.Step != 0 || se.Name != "start" {
		t.Errorf("expected step 0 (start) error, got %v", err)
	}
	if len(page.Events()) != 0 {
		t.Errorf("expected no interactions, got %v", page.Events())
	}
}

func TestRun_InvalidChoice(t *testing.T) {
	for _, choice := range []string{"", "  ", "Judging"} {
		plan := testPlan()
		page := defaultPage(t, plan)
		v := testValues()
		v.AnnotatorOrReviewer = choice

		err := automation.New(plan, quietLogger()).Run(context.Background(), page, v)
		if !errors.Is(err, automation.ErrInvalidChoice) {
			t.Errorf("%q: expected ErrInvalidChoice, got %v", choice, err)
			continue
		}
		var se *automation.StepError
		if errors.As(err, &se) && se.Step != 2 {
			t.Errorf("%q: expected step 2, got %d", choice, se.Step)
		}
	}
}

func TestRun_ChoiceCaseInsensitive(t *testing.T) {
	plan := testPlan()
	page := defaultPage(t, plan)
	v := testValues()
	v.AnnotatorOrReviewer = "  REVIEWING "

	if err := automation.New(plan, quietLogger()).Run(context.Background(), page, v); err != nil {
		t.Fatalf("run: %v", err)
	}
	found := false
	for _, e := range page.Events() {
		if e.Kind == "click" && e.Value == "Reviewing" {
			found = true
		}
		if e.Kind == "click" && e.Value == "Annotating" {
			t.Error("clicked the wrong choice")
		}
	}
	if !found {
		t.Error("Reviewing was not clicked")
	}
}

func TestRun_MissingChoiceButtons(t *testing.T) {
	plan := testPlan()
	frags, _ := htmlpage.Fragments(plan)
	frags[0] = `<div class="group w-full pt-8"><button type="button">Annotating</button><button type="submit">Next</button></div>`
	page := scriptedPage(t, plan, frags)

	err := automation.New(plan, quietLogger()).Run(context.Background(), page, testValues())
	if !errors.Is(err, automation.ErrElementNotFound) {
		t.Fatalf("expected ErrElementNotFound, got %v", err)
	}
}

func TestRun_MissingControlNamesStep(t *testing.T) {
	plan := testPlan()
	frags, _ := htmlpage.Fragments(plan)
	frags[1] = `<div class="group w-full pt-8"><button type="submit">Next</button></div>`
	page := scriptedPage(t, plan, frags)

	err := automation.New(plan, quietLogger()).Run(context.Background(), page, testValues())
	var se *automation.StepError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StepError, got %v", err)
	}
	if se.Step != 3 || se.Name != "qa number" || !errors.Is(err, automation.ErrElementNotFound) {
		t.Errorf("unexpected error: %v", err)
	}
	if !strings.Contains(err.Error(), "step 3") {
		t.Errorf("message does not name the step: %q", err)
	}
}

func TestRun_MissingSubmit(t *testing.T) {
	plan := testPlan()
	page, err := htmlpage.ParseString(`<div class="group w-full pt-8"><textarea></textarea></div>`, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = automation.New(plan, quietLogger()).Run(context.Background(), page, testValues())
	if !errors.Is(err, automation.ErrElementNotFound) {
		t.Fatalf("expected ErrElementNotFound, got %v", err)
	}
}

func TestRun_TimeoutAbortsWithoutFurtherSteps(t *testing.T) {
	plan := testPlan()
	page := scriptedPage(t, plan, nil)

	start := time.Now()
	err := automation.New(plan, quietLogger()).Run(context.Background(), page, testValues())
	if !errors.Is(err, automation.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) < plan.GroupTimeout {
		t.Error("returned before the timeout elapsed")
	}
	if n := len(page.Events()); n != 2 {
		t.Errorf("expected fill+submit only, got %v", kinds(page.Events()))
	}
}

func TestRun_DropFallback(t *testing.T) {
	plan := testPlan()
	frags, _ := htmlpage.Fragments(plan)
	frags[2] = `<div class="group w-full pt-8"><textarea></textarea><button type="button" aria-label="Upload assets">+</button><button type="submit">Next</button></div>`
	page := scriptedPage(t, plan, frags)

	if err := automation.New(plan, quietLogger()).Run(context.Background(), page, testValues()); err != nil {
		t.Fatalf("run: %v", err)
	}
	var drops []htmlpage.Event
	for _, e := range page.Events() {
		switch e.Kind {
		case "attach":
			t.Error("attached without a file input")
		case "dragenter", "dragover", "drop":
			drops = append(drops, e)
		}
	}
	if len(drops) != 3 || drops[2].Kind != "drop" {
		t.Fatalf("expected drag sequence, got %v", drops)
	}
	if drops[0].Selector != plan.UploadButton {
		t.Errorf("expected drop onto upload button, got %q", drops[0].Selector)
	}
}

func TestRun_NoImageSkipsUpload(t *testing.T) {
	plan := testPlan()
	page := defaultPage(t, plan)
	v := testValues()
	v.ImageDataURL = "   "

	if err := automation.New(plan, quietLogger()).Run(context.Background(), page, v); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, e := range page.Events() {
		if e.Kind == "attach" || e.Kind == "drop" {
			t.Errorf("unexpected upload event %v", e)
		}
	}
}

func TestRun_BadImage(t *testing.T) {
	plan := testPlan()
	page := defaultPage(t, plan)
	v := testValues()
	v.ImageDataURL = "https://example.com/cat.png"

	err := automation.New(plan, quietLogger()).Run(context.Background(), page, v)
	if !errors.Is(err, automation.ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
	var se *automation.StepError
	if errors.As(err, &se) && se.Step != 4 {
		t.Errorf("expected step 4, got %d", se.Step)
	}
}

func TestRun_InvalidPlan(t *testing.T) {
	plan := testPlan()
	plan.GroupSelector = ""
	page := defaultPage(t, testPlan())
	if err := automation.New(plan, quietLogger()).Run(context.Background(), page, testValues()); err == nil {
		t.Fatal("expected plan validation error")
	}
}
