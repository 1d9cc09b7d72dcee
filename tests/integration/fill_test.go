//go:build integration

package integration

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/13illydakid/p-lizard-ext/internal/automation"
	"github.com/13illydakid/p-lizard-ext/internal/automation/cdppage"
	"github.com/13illydakid/p-lizard-ext/internal/formstate"
	"github.com/13illydakid/p-lizard-ext/internal/popup"
	"github.com/13illydakid/p-lizard-ext/internal/store"
	"github.com/13illydakid/p-lizard-ext/internal/tabexec"
)

type submission struct {
	Value string `json:"value"`
	File  string `json:"file"`
}

// openTaskTab navigates a fresh tab to the task page and returns an
// executor pinned to it.
func openTaskTab(t *testing.T) (*tabexec.Executor, context.Context) {
	t.Helper()
	tabCtx, cancel := chromedp.NewContext(browserCtx)
	t.Cleanup(cancel)
	if err := chromedp.Run(tabCtx, chromedp.Navigate(pageServer.URL+"/task")); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	id := string(chromedp.FromContext(tabCtx).Target.TargetID)

	ex := tabexec.New(browserCtx, tabexec.Options{
		PinnedTab: id,
		Timeout:   30 * time.Second,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(ex.Close)
	return ex, tabCtx
}

func newController(t *testing.T, ex *tabexec.Executor) *popup.Controller {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := popup.New(popup.Options{
		Store:     store.NewAdapter(store.NewMemorySurface(0)),
		Tabs:      ex,
		Runner:    automation.New(automation.DefaultPlan(), logger),
		NewPage:   func() automation.Page { return cdppage.New(t.TempDir()) },
		SaveDelay: 10 * time.Millisecond,
		Logger:    logger,
	})
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestActiveTabIsPinned(t *testing.T) {
	ex, tabCtx := openTaskTab(t)
	tab, err := ex.ActiveTab(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tab.ID != string(chromedp.FromContext(tabCtx).Target.TargetID) {
		t.Errorf("active tab = %s, want pinned", tab.ID)
	}
}

func TestFillAndSubmit(t *testing.T) {
	ex, tabCtx := openTaskTab(t)
	c := newController(t, ex)

	c.SetTaskID(" T-100 ")
	c.ToggleRole(formstate.RoleReviewing)
	if err := c.SelectQA("2"); err != nil {
		t.Fatal(err)
	}
	c.SetPrompt("Describe the image")
	c.SetAnswer("A lizard on a rock")
	c.LoadImageFile("lizard.png", []byte("\x89PNG\r\n\x1a\n0000"))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := c.FillAndSubmit(ctx); err != nil {
		t.Fatalf("fill and submit: %v", err)
	}

	var got []submission
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(`window.submitted`, &got)); err != nil {
		t.Fatal(err)
	}
	want := []submission{
		{Value: "T-100"},
		{Value: "Reviewing"},
		{Value: "2"},
		{Value: "Describe the image", File: "lizard.png"},
		{Value: "A lizard on a rock"},
	}
	if len(got) != len(want) {
		t.Fatalf("submitted %d steps: %+v", len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d: got %+v, want %+v", i+1, got[i], want[i])
		}
	}
}

func TestPullTaskIDAndQA(t *testing.T) {
	ex, _ := openTaskTab(t)
	c := newController(t, ex)

	id, err := c.PullTaskID(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id != "TASK-INT-7" {
		t.Errorf("task id = %q", id)
	}

	if err := c.SelectQA("2"); err != nil {
		t.Fatal(err)
	}
	got, found, err := c.PullQA(context.Background())
	if err != nil || !found {
		t.Fatalf("pull qa: %v found=%v", err, found)
	}
	if got.Prompt != "second prompt" || got.Answer != "second answer" {
		t.Errorf("pulled %+v", got)
	}

	// Slot 4 has no elements on the page; the "_1" elements are used instead.
	if err := c.SelectQA("4"); err != nil {
		t.Fatal(err)
	}
	got, _, err = c.PullQA(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Prompt != "second prompt" {
		t.Errorf("fallback pulled %+v", got)
	}
}

func TestRunInActiveTabAllFrames(t *testing.T) {
	ex, _ := openTaskTab(t)
	results, err := ex.RunInActiveTab(context.Background(), `function(a, b) { return a + b; }`, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || string(results[0].Value) != "5" {
		t.Errorf("results = %+v", results)
	}
}
