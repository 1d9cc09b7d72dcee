package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/13illydakid/p-lizard-ext/internal/automation"
	"github.com/13illydakid/p-lizard-ext/internal/automation/htmlpage"
)

type dryrunOptions struct {
	page    string
	plan    string
	out     string
	image   string
	values  automation.Values
	verbose bool
}

// loadPlan reads a plan override from a YAML file. Keys missing from the
// file keep their default.
func loadPlan(path string) (automation.Plan, error) {
	plan := automation.DefaultPlan()
	if path == "" {
		return plan, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return plan, err
	}
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return plan, fmt.Errorf("parse plan %s: %w", path, err)
	}
	return plan, plan.Validate()
}

// dryrun runs the fill protocol against a local HTML page instead of Chrome.
// After each submit the page gets the next group rendered from the plan.
func dryrun(ctx context.Context, o dryrunOptions, w io.Writer) (*htmlpage.Page, error) {
	plan, err := loadPlan(o.plan)
	if err != nil {
		return nil, err
	}
	next, err := htmlpage.Fragments(plan)
	if err != nil {
		return nil, err
	}
	responder := htmlpage.Scripted(plan.SubmitSelector, next)

	var page *htmlpage.Page
	if o.page != "" {
		page, err = htmlpage.Load(o.page, responder)
	} else {
		var doc string
		if doc, err = htmlpage.Initial(plan); err == nil {
			page, err = htmlpage.ParseString(doc, responder)
		}
	}
	if err != nil {
		return nil, err
	}

	v := o.values
	if o.image != "" {
		data, err := os.ReadFile(o.image)
		if err != nil {
			return nil, err
		}
		v.ImageFileName = filepath.Base(o.image)
		v.ImageDataURL = automation.EncodeDataURL(v.ImageFileName, data)
	}

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	start := time.Now()
	runErr := automation.New(plan, logger).Run(ctx, page, v)
	for _, e := range page.Events() {
		fmt.Fprintf(w, "group %d  %-9s %-28s %s\n", e.Group, e.Kind, e.Selector, oneLine(e.Value))
	}
	if runErr != nil {
		return page, runErr
	}
	fmt.Fprintf(w, "all %d steps submitted in %s\n", len(plan.Steps), time.Since(start).Round(time.Millisecond))

	if o.out != "" {
		html, err := page.HTML()
		if err != nil {
			return page, err
		}
		if err := os.WriteFile(o.out, []byte(html), 0644); err != nil {
			return page, err
		}
	}
	return page, nil
}

func dryrunCmd() *cobra.Command {
	var o dryrunOptions
	cmd := &cobra.Command{
		Use:   "dryrun",
		Short: "Run the fill protocol against a saved HTML page, without Chrome",
		Long: `dryrun drives the five fill steps against a local HTML document and prints
every fill, click and upload. With no --page it starts from a generated page
holding the first step.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := dryrun(cmd.Context(), o, cmd.OutOrStdout())
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.page, "page", "", "saved HTML page holding the first group")
	f.StringVar(&o.plan, "plan", "", "YAML plan override")
	f.StringVar(&o.out, "out", "", "write the final document here")
	f.StringVar(&o.image, "image", "", "image file to upload in step 4")
	f.StringVar(&o.values.TaskID, "task", "T-0001", "task id")
	f.StringVar(&o.values.AnnotatorOrReviewer, "role", "Annotating", "Annotating or Reviewing")
	f.StringVar(&o.values.QANumber, "qa", "1", "qa number")
	f.StringVar(&o.values.ImageAndPrompt, "prompt", "", "image and prompt text")
	f.StringVar(&o.values.RewriteAnswer, "answer", "", "rewrite answer text")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "log every step")
	return cmd
}
