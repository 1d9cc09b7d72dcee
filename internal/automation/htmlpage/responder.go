package htmlpage

import (
	"fmt"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/13illydakid/p-lizard-ext/internal/automation"
)

// Scripted appends next[k] after the last group on the k-th click of an
// element matching submit. Clicks beyond len(next) append nothing.
func Scripted(submit string, next []string) Responder {
	k := 0
	return func(doc *goquery.Document, g automation.Group, clicked *goquery.Selection) error {
		if !clicked.Is(submit) || k >= len(next) {
			return nil
		}
		doc.Find(g.Selector).Last().AfterHtml(next[k])
		k++
		return nil
	}
}

// Fragments renders one group container per step after the first, plus a
// closing one, using the default markup for each step kind. The group
// selector must be a plain "tag.class.class" selector.
func Fragments(plan automation.Plan) ([]string, error) {
	tag, classes, err := splitSimpleSelector(plan.GroupSelector)
	if err != nil {
		return nil, err
	}
	open := fmt.Sprintf(`<%s class="%s">`, tag, html.EscapeString(strings.Join(classes, " ")))
	closing := fmt.Sprintf(`<button type="submit">Next</button></%s>`, tag)

	var out []string
	for _, step := range plan.Steps[1:] {
		out = append(out, open+controlMarkup(plan, step)+closing)
	}
	out = append(out, open+"<p>Done</p>"+fmt.Sprintf("</%s>", tag))
	return out, nil
}

// Initial renders a document holding the first step's group.
func Initial(plan automation.Plan) (string, error) {
	tag, classes, err := splitSimpleSelector(plan.GroupSelector)
	if err != nil {
		return "", err
	}
	if len(plan.Steps) == 0 {
		return "", fmt.Errorf("plan has no steps")
	}
	return fmt.Sprintf(`<html><body><main><%s class="%s">%s<button type="submit">Next</button></%s></main></body></html>`,
		tag, html.EscapeString(strings.Join(classes, " ")), controlMarkup(plan, plan.Steps[0]), tag), nil
}

func controlMarkup(plan automation.Plan, step automation.Step) string {
	switch step.Kind {
	case automation.KindChoice:
		var b strings.Builder
		for _, l := range plan.ChoiceLabels {
			fmt.Fprintf(&b, `<button type="button">%s</button>`, html.EscapeString(l))
		}
		return b.String()
	case automation.KindNumber:
		return `<input type="number">`
	case automation.KindPromptImage:
		return `<textarea></textarea><button type="button" aria-label="Upload assets">+</button><input type="file">`
	}
	return `<textarea></textarea>`
}

func splitSimpleSelector(sel string) (string, []string, error) {
	if strings.ContainsAny(sel, " >+~[]:#,") {
		return "", nil, fmt.Errorf("group selector %q is not a simple tag.class selector", sel)
	}
	parts := strings.Split(sel, ".")
	tag := parts[0]
	if tag == "" {
		tag = "div"
	}
	return tag, parts[1:], nil
}
