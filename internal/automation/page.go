package automation

import "context"

// Group addresses the Index-th element (0-based, document order) matching
// Selector: one step container of the target form.
type Group struct {
	Selector string
	Index    int
}

// Page is the capability to act on the target page. Element lookups inside
// a group use the first match of the given selector; implementations return
// ErrElementNotFound when it is absent.
type Page interface {
	// Count returns how many elements match selector in the document.
	Count(ctx context.Context, selector string) (int, error)
	// Fill focuses the control and sets its value through the native value
	// setter, then dispatches bubbling input and change events.
	Fill(ctx context.Context, g Group, control, value string) error
	// Labels returns the whitespace-normalized text of every match.
	Labels(ctx context.Context, g Group, selector string) ([]string, error)
	// Click clicks the n-th match of selector inside g.
	Click(ctx context.Context, g Group, selector string, n int) error
	// HasFileInput reports whether a file input exists in g or, failing
	// that, anywhere in the document.
	HasFileInput(ctx context.Context, g Group, selector string) (bool, error)
	// AttachFile sets f on the file input found by HasFileInput and
	// dispatches input and change events.
	AttachFile(ctx context.Context, g Group, selector string, f File) error
	// DropFile dispatches dragenter, dragover and drop carrying f onto the
	// first match of target inside g, or onto g itself.
	DropFile(ctx context.Context, g Group, target string, f File) error
}
