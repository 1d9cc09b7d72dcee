// Package popup owns the popup's form: the persisted record, the selected
// QA slot, what each control shows, and the image status line. Every user
// action is a Controller method.
package popup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/13illydakid/p-lizard-ext/internal/automation"
	"github.com/13illydakid/p-lizard-ext/internal/formstate"
	"github.com/13illydakid/p-lizard-ext/internal/persist"
	"github.com/13illydakid/p-lizard-ext/internal/tabexec"
)

// Image status texts.
const (
	StatusNoImage      = "No image selected"
	StatusImageDropped = "Image too large to persist; cleared"
)

// ErrInvalidQA is returned by SelectQA for anything but "1".."5".
var ErrInvalidQA = errors.New(`qa must be one of "1".."5"`)

// Store is the persistence the controller needs.
type Store interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, key string, value any) error
	Remove(ctx context.Context, key string) error
}

// Tabs runs scripts in the active tab.
type Tabs interface {
	RunInActiveTab(ctx context.Context, fn string, args ...any) ([]tabexec.FrameResult, error)
	WithActiveTab(ctx context.Context, fn func(tabCtx context.Context, tab tabexec.TabInfo) error) error
}

// Runner executes the fill-and-submit protocol.
type Runner interface {
	Run(ctx context.Context, page automation.Page, v automation.Values) error
}

// Options wires a Controller.
type Options struct {
	Store   Store
	Tabs    Tabs
	Runner  Runner
	NewPage func() automation.Page
	// Key defaults to formstate.StorageKey.
	Key       string
	SaveDelay time.Duration
	Logger    *slog.Logger
}

// View is a read-only snapshot of what the popup shows.
type View struct {
	TaskID              string         `json:"taskId"`
	AnnotatorOrReviewer formstate.Role `json:"annotatorOrReviewer"`
	ActiveQA            string         `json:"activeQa"`
	ImageAndPrompt      string         `json:"imageAndPrompt"`
	RewriteAnswer       string         `json:"rewriteAnswer"`
	ImageFileName       string         `json:"imageFileName"`
	HasImage            bool           `json:"hasImage"`
	ImageStatus         string         `json:"imageStatus"`
	SavePending         bool           `json:"savePending"`
}

// Controller serializes all form mutation behind one mutex. Storage and tab
// calls run outside it.
type Controller struct {
	opts  Options
	log   *slog.Logger
	sched *persist.Scheduler

	mu       sync.Mutex
	state    formstate.State
	activeQA string
	form     formstate.Form
	status   string
}

// New returns a Controller showing the empty form. Call Load to restore the
// stored record.
func New(opts Options) *Controller {
	if opts.Key == "" {
		opts.Key = formstate.StorageKey
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Controller{
		opts:     opts,
		log:      opts.Logger,
		state:    formstate.Reset(),
		activeQA: formstate.DefaultQA,
		status:   StatusNoImage,
	}
	c.sched = persist.New(persist.Options{
		Store:          opts.Store,
		Key:            opts.Key,
		Delay:          opts.SaveDelay,
		Snapshot:       c.snapshot,
		OnImageDropped: c.dropImage,
		Logger:         opts.Logger,
	})
	return c
}

// snapshot syncs the controls into the record and returns a copy for the
// scheduler to write.
func (c *Controller) snapshot() formstate.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.SnapshotFromUI(c.form, c.activeQA)
	return c.state.Clone()
}

func (c *Controller) dropImage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.form.ImageDataURL = ""
	c.form.ImageFileName = ""
	c.state.StripImage()
	c.status = StatusImageDropped
}

func (c *Controller) imageStatusLocked() string {
	if c.form.ImageFileName != "" {
		return c.form.ImageFileName
	}
	return StatusNoImage
}

// edit applies fn under the lock and schedules a save.
func (c *Controller) edit(fn func()) {
	c.mu.Lock()
	fn()
	c.mu.Unlock()
	c.sched.Schedule()
}

// Load hydrates the stored record, writes back its normalized shape and
// restores the last selected QA slot.
func (c *Controller) Load(ctx context.Context) error {
	raw, _, err := c.opts.Store.Get(ctx, c.opts.Key)
	if err != nil {
		return fmt.Errorf("load form: %w", err)
	}
	st, out := formstate.Hydrate(raw)
	if out.Migrated {
		c.log.Info("migrated legacy form record", "key", c.opts.Key)
	}
	if out.Persist {
		if err := c.opts.Store.Set(ctx, c.opts.Key, st); err != nil {
			c.log.Warn("persist normalized form failed", "key", c.opts.Key, "err", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = st
	c.activeQA = st.Shared.LastQA
	if !formstate.IsValidQA(c.activeQA) {
		c.activeQA = formstate.DefaultQA
	}
	c.form = st.FormFor(c.activeQA)
	c.status = c.imageStatusLocked()
	return nil
}

// View returns what the popup currently shows.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return View{
		TaskID:              c.form.TaskID,
		AnnotatorOrReviewer: c.form.Role,
		ActiveQA:            c.activeQA,
		ImageAndPrompt:      c.form.Prompt,
		RewriteAnswer:       c.form.Answer,
		ImageFileName:       c.form.ImageFileName,
		HasImage:            c.form.ImageFileName != "",
		ImageStatus:         c.status,
		SavePending:         c.sched.Pending(),
	}
}

// State returns a copy of the in-memory record as it would be saved now.
func (c *Controller) State() formstate.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state.Clone()
	st.SnapshotFromUI(c.form, c.activeQA)
	return st
}

// ImageDataURL returns the selected image, if any.
func (c *Controller) ImageDataURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.form.ImageDataURL
}

func (c *Controller) SetTaskID(v string) { c.edit(func() { c.form.TaskID = v }) }
func (c *Controller) SetPrompt(v string) { c.edit(func() { c.form.Prompt = v }) }
func (c *Controller) SetAnswer(v string) { c.edit(func() { c.form.Answer = v }) }

// ToggleRole presses one of the two role buttons. Pressing the pressed one
// releases it.
func (c *Controller) ToggleRole(pressed formstate.Role) formstate.Role {
	var out formstate.Role
	c.edit(func() {
		c.form.Role = formstate.ToggleRole(c.form.Role, pressed)
		out = c.form.Role
	})
	return out
}

// SelectQA switches the prompt/answer controls to slot qa after saving the
// current slot's values into the record. Selecting the active slot does
// nothing.
func (c *Controller) SelectQA(qa string) error {
	if !formstate.IsValidQA(qa) {
		return ErrInvalidQA
	}
	c.mu.Lock()
	if qa == c.activeQA {
		c.mu.Unlock()
		return nil
	}
	c.state.SnapshotFromUI(c.form, c.activeQA)
	c.activeQA = qa
	slot := c.state.PerQA[qa]
	c.form.Prompt = slot.ImageAndPrompt
	c.form.Answer = slot.RewriteAnswer
	c.status = c.imageStatusLocked()
	c.mu.Unlock()

	c.sched.Schedule()
	return nil
}

// SetImage selects an image given as a data URL. An empty dataURL clears
// the selection.
func (c *Controller) SetImage(name, dataURL string) {
	c.edit(func() {
		if dataURL == "" {
			c.form.ImageDataURL = ""
			c.form.ImageFileName = ""
		} else {
			c.form.ImageDataURL = dataURL
			c.form.ImageFileName = name
		}
		c.status = c.imageStatusLocked()
	})
}

// LoadImageFile selects an image from raw file bytes.
func (c *Controller) LoadImageFile(name string, data []byte) {
	c.mu.Lock()
	c.status = "Reading: " + name
	c.mu.Unlock()

	if len(data) == 0 {
		c.SetImage("", "")
		return
	}
	c.SetImage(name, automation.EncodeDataURL(name, data))
}

// DeleteImage clears the selected image.
func (c *Controller) DeleteImage() { c.SetImage("", "") }

// ClearPrompt empties the prompt of the active slot.
func (c *Controller) ClearPrompt() {
	c.edit(func() {
		c.form.Prompt = ""
		slot := c.state.PerQA[c.activeQA]
		slot.ImageAndPrompt = ""
		c.state.PerQA[c.activeQA] = slot
	})
}

// ClearAnswer empties the answer of the active slot.
func (c *Controller) ClearAnswer() {
	c.edit(func() {
		c.form.Answer = ""
		slot := c.state.PerQA[c.activeQA]
		slot.RewriteAnswer = ""
		c.state.PerQA[c.activeQA] = slot
	})
}

// Clear drops any pending save, resets the form and removes the stored
// record. A save already in flight finishes before the record is removed.
func (c *Controller) Clear(ctx context.Context) error {
	return c.sched.CancelThen(func() error {
		c.mu.Lock()
		c.state = formstate.Reset()
		c.activeQA = formstate.DefaultQA
		c.form = c.state.FormFor(c.activeQA)
		c.status = StatusNoImage
		c.mu.Unlock()

		if err := c.opts.Store.Remove(ctx, c.opts.Key); err != nil {
			return fmt.Errorf("clear form: %w", err)
		}
		return nil
	})
}

// Flush writes a pending save immediately.
func (c *Controller) Flush(ctx context.Context) error {
	return c.sched.Flush(ctx)
}

// Values syncs the controls into the record and returns what a fill run
// would submit. The image falls back to the first per-slot image found in
// the raw record when the shared one is missing.
func (c *Controller) Values() automation.Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.SnapshotFromUI(c.form, c.activeQA)
	slot := c.state.PerQA[c.activeQA]
	return automation.Values{
		TaskID:              c.state.Shared.TaskID,
		AnnotatorOrReviewer: string(c.state.Shared.AnnotatorOrReviewer),
		QANumber:            c.activeQA,
		ImageAndPrompt:      slot.ImageAndPrompt,
		ImageDataURL:        c.state.Shared.ImageDataURL,
		ImageFileName:       c.state.Shared.ImageFileName,
		RewriteAnswer:       slot.RewriteAnswer,
	}
}

// FillAndSubmit runs the five-step protocol in the active tab with the
// current values.
func (c *Controller) FillAndSubmit(ctx context.Context) error {
	if c.opts.Tabs == nil || c.opts.Runner == nil || c.opts.NewPage == nil {
		return fmt.Errorf("fill and submit: no browser attached")
	}
	v := c.Values()
	if v.ImageDataURL == "" || v.ImageFileName == "" {
		v.ImageDataURL, v.ImageFileName = c.storedImageFallback(ctx, v.ImageDataURL, v.ImageFileName)
	}

	err := c.opts.Tabs.WithActiveTab(ctx, func(tabCtx context.Context, tab tabexec.TabInfo) error {
		c.log.Info("fill and submit", "tab", tab.ID, "url", tab.URL, "qa", v.QANumber)
		return c.opts.Runner.Run(tabCtx, c.opts.NewPage(), v)
	})
	if err != nil {
		c.log.Error("fill and submit failed", "err", err)
		return err
	}
	return nil
}

// storedImageFallback scans the stored record's per-slot entries for image
// fields written before images became shared. The first non-empty value of
// each field wins.
func (c *Controller) storedImageFallback(ctx context.Context, dataURL, name string) (string, string) {
	raw, found, err := c.opts.Store.Get(ctx, c.opts.Key)
	if err != nil || !found {
		return dataURL, name
	}
	var stored struct {
		PerQA map[string]struct {
			ImageDataURL  string `json:"imageDataUrl"`
			ImageFileName string `json:"imageFileName"`
		} `json:"perQa"`
	}
	if json.Unmarshal(raw, &stored) != nil {
		return dataURL, name
	}
	for _, k := range formstate.QAKeys {
		slot, ok := stored.PerQA[k]
		if !ok {
			continue
		}
		if dataURL == "" && slot.ImageDataURL != "" {
			dataURL = slot.ImageDataURL
		}
		if name == "" && slot.ImageFileName != "" {
			name = slot.ImageFileName
		}
	}
	return dataURL, name
}

// PullTaskID copies the task id shown on the page into the task id control
// and returns it, or "" when no frame shows one.
func (c *Controller) PullTaskID(ctx context.Context) (string, error) {
	results, err := c.opts.Tabs.RunInActiveTab(ctx, taskIDJS)
	if err != nil {
		return "", fmt.Errorf("pull task id: %w", err)
	}
	id := firstTaskID(results)
	if id == "" {
		c.log.Warn("pull task id: nothing found", "selector", TaskIDSelector)
		return "", nil
	}
	c.SetTaskID(id)
	return id, nil
}

// PullQA copies the prompt and answer of the active slot from the page.
func (c *Controller) PullQA(ctx context.Context) (PulledQA, bool, error) {
	c.mu.Lock()
	qa := c.activeQA
	c.mu.Unlock()

	idx := int(qa[0] - '1')
	results, err := c.opts.Tabs.RunInActiveTab(ctx, qaJS, idx)
	if err != nil {
		return PulledQA{}, false, fmt.Errorf("pull qa %s: %w", qa, err)
	}
	got, ok := firstQA(results)
	if !ok {
		c.log.Warn("pull qa: no prompt or answer found", "qa", qa)
		return PulledQA{}, false, nil
	}
	c.edit(func() {
		c.form.Prompt = got.Prompt
		c.form.Answer = got.Answer
	})
	return got, true, nil
}

// Field returns the current text of a copyable control.
func (c *Controller) Field(name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch strings.TrimSpace(name) {
	case "taskId":
		return c.form.TaskID, nil
	case "imageAndPrompt":
		return c.form.Prompt, nil
	case "rewriteAnswer":
		return c.form.Answer, nil
	}
	return "", fmt.Errorf("unknown field %q", name)
}
