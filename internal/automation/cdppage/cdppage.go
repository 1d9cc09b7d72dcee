// Package cdppage drives the live annotation page through chromedp. Every
// method expects ctx to carry a chromedp tab context.
package cdppage

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"github.com/13illydakid/p-lizard-ext/internal/automation"
	"github.com/13illydakid/p-lizard-ext/internal/tabexec"
)

const markerAttr = "data-plizard-upload"

var _ automation.Page = (*Page)(nil)

// Page implements automation.Page over CDP.
type Page struct {
	// TempDir receives upload files; os.TempDir() when empty.
	TempDir string
}

// New returns a Page writing uploads under tempDir.
func New(tempDir string) *Page {
	return &Page{TempDir: tempDir}
}

type result struct {
	OK      bool     `json:"ok"`
	Missing string   `json:"missing"`
	Labels  []string `json:"labels"`
	Found   bool     `json:"found"`
}

func (p *Page) call(ctx context.Context, g automation.Group, fn string, args ...any) (result, error) {
	var r result
	all := append([]any{g.Selector, g.Index}, args...)
	if err := tabexec.RunInMainFrame(ctx, fn, &r, all...); err != nil {
		return r, err
	}
	if !r.OK {
		what := r.Missing
		if what == "group" {
			return r, fmt.Errorf("%w: group %d of %q", automation.ErrElementNotFound, g.Index, g.Selector)
		}
		return r, fmt.Errorf("%w: %q in group %d", automation.ErrElementNotFound, what, g.Index)
	}
	return r, nil
}

func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	var n int
	if err := tabexec.RunInMainFrame(ctx, countJS, &n, selector); err != nil {
		return 0, err
	}
	return n, nil
}

func (p *Page) Fill(ctx context.Context, g automation.Group, control, value string) error {
	_, err := p.call(ctx, g, fillJS, control, value)
	return err
}

func (p *Page) Labels(ctx context.Context, g automation.Group, selector string) ([]string, error) {
	r, err := p.call(ctx, g, labelsJS, selector)
	if err != nil {
		return nil, err
	}
	return r.Labels, nil
}

func (p *Page) Click(ctx context.Context, g automation.Group, selector string, n int) error {
	_, err := p.call(ctx, g, clickJS, selector, n)
	return err
}

func (p *Page) HasFileInput(ctx context.Context, g automation.Group, selector string) (bool, error) {
	r, err := p.call(ctx, g, hasFileInputJS, selector)
	if err != nil {
		return false, err
	}
	return r.Found, nil
}

// AttachFile writes f to a temporary file and hands it to the input with
// DOM.setFileInputFiles, which fires the input's input and change events.
func (p *Page) AttachFile(ctx context.Context, g automation.Group, selector string, f automation.File) error {
	path, cleanup, err := p.writeTemp(f)
	if err != nil {
		return err
	}
	defer cleanup()

	marker := uuid.NewString()
	if _, err := p.call(ctx, g, markFileInputJS, selector, markerAttr, marker); err != nil {
		return err
	}
	defer func() {
		_ = tabexec.RunInMainFrame(ctx, unmarkJS, nil, markerAttr, marker)
	}()

	sel := fmt.Sprintf(`[%s="%s"]`, markerAttr, marker)
	if err := chromedp.Run(ctx, chromedp.SetUploadFiles(sel, []string{path}, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("set upload files: %w", err)
	}
	return nil
}

func (p *Page) DropFile(ctx context.Context, g automation.Group, target string, f automation.File) error {
	mime := f.MIME
	if mime == "" {
		mime = "application/octet-stream"
	}
	_, err := p.call(ctx, g, dropFileJS, target, f.Name, mime, base64.StdEncoding.EncodeToString(f.Data))
	return err
}

func (p *Page) writeTemp(f automation.File) (string, func(), error) {
	dir, err := os.MkdirTemp(p.TempDir, "plizard-upload-")
	if err != nil {
		return "", nil, fmt.Errorf("upload temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	name := filepath.Base(strings.TrimSpace(f.Name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "upload"
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, f.Data, 0o600); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write upload: %w", err)
	}
	return path, cleanup, nil
}
