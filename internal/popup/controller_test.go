package popup

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/13illydakid/p-lizard-ext/internal/automation"
	"github.com/13illydakid/p-lizard-ext/internal/formstate"
	"github.com/13illydakid/p-lizard-ext/internal/tabexec"
)

type memStore struct {
	mu      sync.Mutex
	data    map[string]json.RawMessage
	sets    int
	removes int
	setErr  func(value json.RawMessage) error

	// beforeSet runs outside the lock, before the write is applied.
	beforeSet func()
}

func newMemStore() *memStore { return &memStore{data: map[string]json.RawMessage{}} }

func (m *memStore) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, key string, value any) error {
	if m.beforeSet != nil {
		m.beforeSet()
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	if m.setErr != nil {
		if err := m.setErr(b); err != nil {
			return err
		}
	}
	m.data[key] = b
	return nil
}

func (m *memStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removes++
	delete(m.data, key)
	return nil
}

func (m *memStore) stored(t *testing.T) formstate.State {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	var st formstate.State
	raw, ok := m.data[formstate.StorageKey]
	if !ok {
		t.Fatal("nothing stored")
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		t.Fatal(err)
	}
	return st
}

func (m *memStore) setCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

type fakeTabs struct {
	results []tabexec.FrameResult
	err     error
	calls   []string
	args    [][]any
}

func (f *fakeTabs) RunInActiveTab(_ context.Context, fn string, args ...any) ([]tabexec.FrameResult, error) {
	f.calls = append(f.calls, fn)
	f.args = append(f.args, args)
	return f.results, f.err
}

func (f *fakeTabs) WithActiveTab(ctx context.Context, fn func(context.Context, tabexec.TabInfo) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(ctx, tabexec.TabInfo{ID: "T1", URL: "https://example.test/task"})
}

type fakeRunner struct {
	got []automation.Values
	err error
}

func (r *fakeRunner) Run(_ context.Context, _ automation.Page, v automation.Values) error {
	r.got = append(r.got, v)
	return r.err
}

func frame(v any) tabexec.FrameResult {
	b, _ := json.Marshal(v)
	return tabexec.FrameResult{FrameID: "f", Value: b}
}

func newTestController(t *testing.T, store *memStore) (*Controller, *fakeTabs, *fakeRunner) {
	t.Helper()
	tabs := &fakeTabs{}
	runner := &fakeRunner{}
	c := New(Options{
		Store:     store,
		Tabs:      tabs,
		Runner:    runner,
		NewPage:   func() automation.Page { return nil },
		SaveDelay: 10 * time.Millisecond,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return c, tabs, runner
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLoad_Empty(t *testing.T) {
	store := newMemStore()
	c, _, _ := newTestController(t, store)
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	v := c.View()
	if v.ActiveQA != "1" || v.ImageStatus != StatusNoImage || v.TaskID != "" {
		t.Errorf("unexpected view %+v", v)
	}
	if store.setCount() != 0 {
		t.Error("empty load should not write")
	}
}

func TestLoad_LegacyMigratesAndPersists(t *testing.T) {
	store := newMemStore()
	store.data[formstate.StorageKey] = json.RawMessage(`{"taskId":"T-1","annotatorOrReviewer":"Reviewing","imageAndPrompt":"p","rewriteAnswer":"a"}`)
	c, _, _ := newTestController(t, store)
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	v := c.View()
	if v.TaskID != "T-1" || v.AnnotatorOrReviewer != formstate.RoleReviewing || v.ImageAndPrompt != "p" || v.RewriteAnswer != "a" {
		t.Errorf("unexpected view %+v", v)
	}
	st := store.stored(t)
	if st.Shared.TaskID != "T-1" || st.PerQA["1"].RewriteAnswer != "a" || len(st.PerQA) != 5 {
		t.Errorf("stored %+v", st)
	}
}

func TestLoad_RestoresLastQA(t *testing.T) {
	store := newMemStore()
	store.data[formstate.StorageKey] = json.RawMessage(`{"shared":{"taskId":"X","lastQa":"3","imageFileName":"cat.png","imageDataUrl":"data:image/png;base64,AA=="},
		"perQa":{"3":{"imageAndPrompt":"three","rewriteAnswer":"tres"}}}`)
	c, _, _ := newTestController(t, store)
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	v := c.View()
	if v.ActiveQA != "3" || v.ImageAndPrompt != "three" || v.RewriteAnswer != "tres" {
		t.Errorf("unexpected view %+v", v)
	}
	if v.ImageStatus != "cat.png" || !v.HasImage {
		t.Errorf("image status = %q", v.ImageStatus)
	}
}

func TestEditsCoalesce(t *testing.T) {
	store := newMemStore()
	c, _, _ := newTestController(t, store)

	for _, s := range []string{"a", "ab", "abc"} {
		c.SetPrompt(s)
	}
	c.SetTaskID("TASK")
	c.SetAnswer("ans")
	waitFor(t, "save", func() bool { return store.setCount() > 0 })
	time.Sleep(30 * time.Millisecond)

	if n := store.setCount(); n != 1 {
		t.Errorf("expected 1 write, got %d", n)
	}
	st := store.stored(t)
	if st.Shared.TaskID != "TASK" || st.PerQA["1"].ImageAndPrompt != "abc" || st.PerQA["1"].RewriteAnswer != "ans" {
		t.Errorf("stored %+v", st)
	}
	if c.View().SavePending {
		t.Error("still pending after write")
	}
}

func TestSelectQA(t *testing.T) {
	store := newMemStore()
	c, _, _ := newTestController(t, store)

	c.SetPrompt("one")
	if err := c.SelectQA("2"); err != nil {
		t.Fatal(err)
	}
	if v := c.View(); v.ActiveQA != "2" || v.ImageAndPrompt != "" {
		t.Errorf("after select 2: %+v", v)
	}
	c.SetPrompt("two")
	if err := c.SelectQA("1"); err != nil {
		t.Fatal(err)
	}
	if v := c.View(); v.ImageAndPrompt != "one" {
		t.Errorf("slot 1 lost its prompt: %+v", v)
	}

	// Selecting the active slot keeps unsaved control values.
	c.SetPrompt("edited")
	if err := c.SelectQA("1"); err != nil {
		t.Fatal(err)
	}
	if v := c.View(); v.ImageAndPrompt != "edited" {
		t.Errorf("no-op select changed controls: %+v", v)
	}

	if err := c.SelectQA("6"); !errors.Is(err, ErrInvalidQA) {
		t.Errorf("expected ErrInvalidQA, got %v", err)
	}

	st := c.State()
	if st.PerQA["2"].ImageAndPrompt != "two" || st.Shared.LastQA != "1" {
		t.Errorf("state %+v", st)
	}
}

func TestToggleRole(t *testing.T) {
	c, _, _ := newTestController(t, newMemStore())
	if got := c.ToggleRole(formstate.RoleAnnotating); got != formstate.RoleAnnotating {
		t.Errorf("got %q", got)
	}
	if got := c.ToggleRole(formstate.RoleReviewing); got != formstate.RoleReviewing {
		t.Errorf("got %q", got)
	}
	if got := c.ToggleRole(formstate.RoleReviewing); got != formstate.RoleNone {
		t.Errorf("pressing the active role should release it, got %q", got)
	}
}

func TestImageLifecycle(t *testing.T) {
	c, _, _ := newTestController(t, newMemStore())

	png := []byte{0x89, 'P', 'N', 'G', 0, 0}
	c.LoadImageFile("shot.png", png)
	v := c.View()
	if v.ImageStatus != "shot.png" || !v.HasImage {
		t.Errorf("after load: %+v", v)
	}
	if !strings.HasPrefix(c.ImageDataURL(), "data:image/png;base64,") {
		t.Errorf("data url = %q", c.ImageDataURL())
	}

	c.DeleteImage()
	v = c.View()
	if v.ImageStatus != StatusNoImage || v.HasImage || c.ImageDataURL() != "" {
		t.Errorf("after delete: %+v", v)
	}

	c.LoadImageFile("empty.png", nil)
	if c.View().HasImage {
		t.Error("empty file selected an image")
	}
}

func TestOversizedImageDropped(t *testing.T) {
	store := newMemStore()
	store.setErr = func(b json.RawMessage) error {
		if strings.Contains(string(b), "data:image") {
			return errors.New("QUOTA_BYTES_PER_ITEM quota exceeded")
		}
		return nil
	}
	c, _, _ := newTestController(t, store)

	c.SetImage("big.png", "data:image/png;base64,AAAA")
	c.SetTaskID("T")
	waitFor(t, "retry", func() bool { return store.setCount() >= 2 })
	waitFor(t, "status", func() bool { return c.View().ImageStatus == StatusImageDropped })

	if n := store.setCount(); n != 2 {
		t.Errorf("expected write + one retry, got %d", n)
	}
	st := store.stored(t)
	if st.Shared.ImageDataURL != "" || st.Shared.ImageFileName != "" || st.Shared.TaskID != "T" {
		t.Errorf("stored %+v", st.Shared)
	}
	if c.View().HasImage || c.ImageDataURL() != "" {
		t.Error("image still selected in memory")
	}
}

func TestClear(t *testing.T) {
	store := newMemStore()
	store.data[formstate.StorageKey] = json.RawMessage(`{"shared":{"taskId":"old","lastQa":"2"},"perQa":{}}`)
	c, _, _ := newTestController(t, store)
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	writes := store.setCount()

	c.SetTaskID("pending edit")
	if err := c.Clear(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(40 * time.Millisecond)

	if store.setCount() != writes {
		t.Error("pending save fired after clear")
	}
	if _, ok, _ := store.Get(context.Background(), formstate.StorageKey); ok {
		t.Error("record not removed")
	}
	v := c.View()
	if v.TaskID != "" || v.ActiveQA != "1" || v.ImageStatus != StatusNoImage {
		t.Errorf("after clear: %+v", v)
	}
}

func TestClear_WaitsForSaveInFlight(t *testing.T) {
	store := newMemStore()
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	store.beforeSet = func() {
		once.Do(func() { close(started) })
		<-release
	}
	c, _, _ := newTestController(t, store)

	c.SetTaskID("in flight")
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("save never started")
	}

	done := make(chan error, 1)
	go func() { done <- c.Clear(context.Background()) }()
	time.Sleep(30 * time.Millisecond)
	store.mu.Lock()
	removed := store.removes
	store.mu.Unlock()
	if removed != 0 {
		t.Error("record removed while a save was in flight")
	}

	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("Clear never returned")
	}
	time.Sleep(40 * time.Millisecond)

	if _, ok, _ := store.Get(context.Background(), formstate.StorageKey); ok {
		t.Error("cleared record written back by the earlier save")
	}
	if v := c.View(); v.TaskID != "" {
		t.Errorf("after clear: %+v", v)
	}
}

func TestFlush(t *testing.T) {
	store := newMemStore()
	c, _, _ := newTestController(t, store)
	c.SetAnswer("keep me")
	if err := c.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.setCount() != 1 || store.stored(t).PerQA["1"].RewriteAnswer != "keep me" {
		t.Error("flush did not write")
	}
}

func TestFillAndSubmit(t *testing.T) {
	store := newMemStore()
	store.data[formstate.StorageKey] = json.RawMessage(`{"shared":{"lastQa":"1"},"perQa":{"2":{"imageDataUrl":"data:image/png;base64,AA==","imageFileName":"old.png"}}}`)
	// Keep the raw record in place while the edits below schedule saves.
	store.setErr = func(json.RawMessage) error { return errors.New("read-only") }
	c, _, runner := newTestController(t, store)

	c.SetTaskID("T-9")
	c.ToggleRole(formstate.RoleAnnotating)
	if err := c.SelectQA("4"); err != nil {
		t.Fatal(err)
	}
	c.SetPrompt("prompt 4")
	c.SetAnswer("answer 4")

	if err := c.FillAndSubmit(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(runner.got) != 1 {
		t.Fatalf("runs = %d", len(runner.got))
	}
	want := automation.Values{
		TaskID:              "T-9",
		AnnotatorOrReviewer: "Annotating",
		QANumber:            "4",
		ImageAndPrompt:      "prompt 4",
		ImageDataURL:        "data:image/png;base64,AA==",
		ImageFileName:       "old.png",
		RewriteAnswer:       "answer 4",
	}
	if runner.got[0] != want {
		t.Errorf("values:\n got %+v\nwant %+v", runner.got[0], want)
	}
}

func TestFillAndSubmit_Errors(t *testing.T) {
	c, tabs, _ := newTestController(t, newMemStore())
	tabs.err = tabexec.ErrNoActiveTab
	if err := c.FillAndSubmit(context.Background()); !errors.Is(err, tabexec.ErrNoActiveTab) {
		t.Errorf("expected ErrNoActiveTab, got %v", err)
	}

	c, _, runner := newTestController(t, newMemStore())
	runner.err = &automation.StepError{Step: 2, Name: "annotating or reviewing", Err: automation.ErrInvalidChoice}
	if err := c.FillAndSubmit(context.Background()); !errors.Is(err, automation.ErrInvalidChoice) {
		t.Errorf("expected ErrInvalidChoice, got %v", err)
	}

	bare := New(Options{Store: newMemStore(), Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err := bare.FillAndSubmit(context.Background()); err == nil {
		t.Error("expected error without a browser")
	}
}

func TestPullTaskID(t *testing.T) {
	c, tabs, _ := newTestController(t, newMemStore())
	tabs.results = []tabexec.FrameResult{{FrameID: "top"}, frame("  "), frame("  PRJ-42 "), frame("PRJ-other")}

	id, err := c.PullTaskID(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id != "PRJ-42" || c.View().TaskID != "PRJ-42" {
		t.Errorf("id = %q, view = %q", id, c.View().TaskID)
	}

	c.SetTaskID("kept")
	tabs.results = []tabexec.FrameResult{frame("")}
	id, err = c.PullTaskID(context.Background())
	if err != nil || id != "" {
		t.Fatalf("id=%q err=%v", id, err)
	}
	if c.View().TaskID != "kept" {
		t.Error("empty pull overwrote the task id")
	}

	tabs.err = tabexec.ErrNoActiveTab
	if _, err := c.PullTaskID(context.Background()); !errors.Is(err, tabexec.ErrNoActiveTab) {
		t.Errorf("expected ErrNoActiveTab, got %v", err)
	}
}

func TestPullQA(t *testing.T) {
	c, tabs, _ := newTestController(t, newMemStore())
	if err := c.SelectQA("3"); err != nil {
		t.Fatal(err)
	}
	tabs.results = []tabexec.FrameResult{
		frame(PulledQA{}),
		frame(PulledQA{Prompt: "Q3", Answer: "A3"}),
	}

	got, ok, err := c.PullQA(context.Background())
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if got.Prompt != "Q3" || got.Answer != "A3" {
		t.Errorf("got %+v", got)
	}
	if idx := tabs.args[0][0]; idx != 2 {
		t.Errorf("index arg = %v, want 2", idx)
	}
	if v := c.View(); v.ImageAndPrompt != "Q3" || v.RewriteAnswer != "A3" {
		t.Errorf("view %+v", v)
	}

	tabs.results = []tabexec.FrameResult{{FrameID: "x"}}
	if _, ok, err := c.PullQA(context.Background()); ok || err != nil {
		t.Errorf("ok=%v err=%v", ok, err)
	}
}

func TestField(t *testing.T) {
	c, _, _ := newTestController(t, newMemStore())
	c.SetTaskID("id")
	c.SetPrompt("p")
	c.SetAnswer("a")
	for name, want := range map[string]string{"taskId": "id", "imageAndPrompt": "p", "rewriteAnswer": "a"} {
		if got, err := c.Field(name); err != nil || got != want {
			t.Errorf("%s = %q, %v", name, got, err)
		}
	}
	if _, err := c.Field("image"); err == nil {
		t.Error("expected error")
	}
}

func TestClearPromptAndAnswer(t *testing.T) {
	c, _, _ := newTestController(t, newMemStore())
	c.SetPrompt("p")
	c.SetAnswer("a")
	c.ClearPrompt()
	if v := c.View(); v.ImageAndPrompt != "" || v.RewriteAnswer != "a" {
		t.Errorf("after clear prompt: %+v", v)
	}
	c.ClearAnswer()
	if v := c.View(); v.RewriteAnswer != "" {
		t.Errorf("after clear answer: %+v", v)
	}
}
