// Package htmlpage is an automation.Page over a parsed HTML document. It
// records every interaction and lets a Responder mutate the document when
// something is clicked, which is enough to replay the step protocol offline.
package htmlpage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/13illydakid/p-lizard-ext/internal/automation"
)

// Event is one recorded interaction.
type Event struct {
	Kind     string // fill, click, attach, dragenter, dragover, drop
	Group    int
	Selector string
	Value    string
}

// Responder reacts to a click, typically by appending the next group.
type Responder func(doc *goquery.Document, g automation.Group, clicked *goquery.Selection) error

// Page implements automation.Page.
type Page struct {
	mu        sync.Mutex
	doc       *goquery.Document
	events    []Event
	responder Responder
}

// New wraps doc. responder may be nil.
func New(doc *goquery.Document, responder Responder) *Page {
	return &Page{doc: doc, responder: responder}
}

// Parse reads an HTML document from r.
func Parse(r io.Reader, responder Responder) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return New(doc, responder), nil
}

// ParseString is Parse over a string.
func ParseString(html string, responder Responder) (*Page, error) {
	return Parse(strings.NewReader(html), responder)
}

// Load parses the HTML file at path.
func Load(path string, responder Responder) (*Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, responder)
}

// Events returns a copy of the interaction log.
func (p *Page) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// HTML renders the current document.
func (p *Page) HTML() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Html()
}

// Document exposes the underlying document, e.g. for assertions.
func (p *Page) Document() *goquery.Document { return p.doc }

func (p *Page) record(e Event) { p.events = append(p.events, e) }

func (p *Page) group(g automation.Group) (*goquery.Selection, error) {
	sel := p.doc.Find(g.Selector).Eq(g.Index)
	if sel.Length() == 0 {
		return nil, fmt.Errorf("%w: group %d of %q", automation.ErrElementNotFound, g.Index, g.Selector)
	}
	return sel, nil
}

func (p *Page) Count(_ context.Context, selector string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Find(selector).Length(), nil
}

func (p *Page) Fill(_ context.Context, g automation.Group, control, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	grp, err := p.group(g)
	if err != nil {
		return err
	}
	el := grp.Find(control).First()
	if el.Length() == 0 {
		return fmt.Errorf("%w: %q in group %d", automation.ErrElementNotFound, control, g.Index)
	}
	if goquery.NodeName(el) == "textarea" {
		el.SetText(value)
	} else {
		el.SetAttr("value", value)
	}
	p.record(Event{Kind: "fill", Group: g.Index, Selector: control, Value: value})
	return nil
}

func (p *Page) Labels(_ context.Context, g automation.Group, selector string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	grp, err := p.group(g)
	if err != nil {
		return nil, err
	}
	var out []string
	grp.Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, strings.Join(strings.Fields(s.Text()), " "))
	})
	return out, nil
}

func (p *Page) Click(_ context.Context, g automation.Group, selector string, n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	grp, err := p.group(g)
	if err != nil {
		return err
	}
	el := grp.Find(selector).Eq(n)
	if el.Length() == 0 {
		return fmt.Errorf("%w: %q #%d in group %d", automation.ErrElementNotFound, selector, n, g.Index)
	}
	p.record(Event{Kind: "click", Group: g.Index, Selector: selector, Value: strings.TrimSpace(el.Text())})
	if p.responder != nil {
		return p.responder(p.doc, g, el)
	}
	return nil
}

func (p *Page) fileInput(grp *goquery.Selection, selector string) *goquery.Selection {
	if in := grp.Find(selector).First(); in.Length() > 0 {
		return in
	}
	return p.doc.Find(selector).First()
}

func (p *Page) HasFileInput(_ context.Context, g automation.Group, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	grp, err := p.group(g)
	if err != nil {
		return false, err
	}
	return p.fileInput(grp, selector).Length() > 0, nil
}

func (p *Page) AttachFile(_ context.Context, g automation.Group, selector string, f automation.File) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	grp, err := p.group(g)
	if err != nil {
		return err
	}
	in := p.fileInput(grp, selector)
	if in.Length() == 0 {
		return fmt.Errorf("%w: %q", automation.ErrElementNotFound, selector)
	}
	in.SetAttr("data-files", f.Name)
	p.record(Event{Kind: "attach", Group: g.Index, Selector: selector, Value: f.Name})
	return nil
}

func (p *Page) DropFile(_ context.Context, g automation.Group, target string, f automation.File) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	grp, err := p.group(g)
	if err != nil {
		return err
	}
	sel := ""
	if target != "" && grp.Find(target).Length() > 0 {
		sel = target
	}
	for _, kind := range []string{"dragenter", "dragover", "drop"} {
		p.record(Event{Kind: kind, Group: g.Index, Selector: sel, Value: f.Name})
	}
	return nil
}
