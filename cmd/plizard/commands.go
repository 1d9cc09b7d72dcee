package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.design/x/clipboard"

	"github.com/13illydakid/p-lizard-ext/internal/popup"
)

type options struct {
	url     string
	token   string
	timeout time.Duration
	json    bool
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// fieldAliases maps the short names accepted on the command line onto the
// host's field names.
var fieldAliases = map[string]string{
	"task":           "taskId",
	"taskid":         "taskId",
	"prompt":         "imageAndPrompt",
	"imageandprompt": "imageAndPrompt",
	"answer":         "rewriteAnswer",
	"rewriteanswer":  "rewriteAnswer",
}

func fieldName(s string) (string, error) {
	if f, ok := fieldAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return f, nil
	}
	return "", fmt.Errorf("unknown field %q (task, prompt, answer)", s)
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "plizard",
		Short: "Fill annotation tasks from the command line",
		Long: `plizard edits the task form kept by a running plizard host and asks the
host to fill and submit it in the active Chrome tab.

Examples:
  plizard set task T-1234
  plizard role annotating
  plizard qa 2
  plizard image ./shot.png
  plizard fill
  plizard copy answer`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.url, "url", envOr("PLIZARD_URL", "http://localhost:18800"), "host URL (PLIZARD_URL)")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("PLIZARD_TOKEN"), "bearer token (PLIZARD_TOKEN)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 60*time.Second, "request timeout")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print raw JSON")

	root.AddCommand(
		healthCmd(opts),
		stateCmd(opts),
		setCmd(opts),
		roleCmd(opts),
		qaCmd(opts),
		imageCmd(opts),
		clearCmd(opts),
		fillCmd(opts),
		pullCmd(opts),
		copyCmd(opts),
		tuiCmd(opts),
		dryrunCmd(),
	)
	return root
}

func (o *options) client() *client { return newClient(o.url, o.token, o.timeout) }

func (o *options) printView(w io.Writer, v popup.View) error {
	if o.json {
		return printJSON(w, v)
	}
	printView(w, v)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printView(w io.Writer, v popup.View) {
	role := string(v.AnnotatorOrReviewer)
	if role == "" {
		role = "-"
	}
	fmt.Fprintf(w, "Task ID:  %s\n", v.TaskID)
	fmt.Fprintf(w, "Role:     %s\n", role)
	fmt.Fprintf(w, "QA:       %s\n", v.ActiveQA)
	fmt.Fprintf(w, "Image:    %s\n", v.ImageStatus)
	fmt.Fprintf(w, "Prompt:   %s\n", oneLine(v.ImageAndPrompt))
	fmt.Fprintf(w, "Answer:   %s\n", oneLine(v.RewriteAnswer))
	if v.SavePending {
		fmt.Fprintln(w, "(save pending)")
	}
}

func oneLine(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ⏎ ")
	if r := []rune(s); len(r) > 70 {
		return string(r[:67]) + "..."
	}
	return s
}

func healthCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the host and its Chrome connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := o.client().Health(cmd.Context())
			if err != nil {
				return err
			}
			if o.json {
				return printJSON(cmd.OutOrStdout(), h)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (store %s, %d tabs)\n", h.Status, h.Store, h.Tabs)
			if h.Error != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "error: %s\n", h.Error)
			}
			return nil
		},
	}
}

func stateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the form",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := o.client().View(cmd.Context())
			if err != nil {
				return err
			}
			return o.printView(cmd.OutOrStdout(), v)
		},
	}
}

func setCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set <task|prompt|answer> <value|->",
		Short: "Set a text field; - reads the value from stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			field, err := fieldName(args[0])
			if err != nil {
				return err
			}
			value := args[1]
			if value == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				value = strings.TrimRight(string(b), "\n")
			}
			v, err := o.client().SetField(cmd.Context(), field, value)
			if err != nil {
				return err
			}
			return o.printView(cmd.OutOrStdout(), v)
		},
	}
}

func roleCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "role <annotating|reviewing>",
		Short: "Press a role button; pressing the active one clears it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := o.client().ToggleRole(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return o.printView(cmd.OutOrStdout(), v)
		},
	}
}

func qaCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "qa <1-5>",
		Short: "Switch the prompt and answer to another QA slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := o.client().SelectQA(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return o.printView(cmd.OutOrStdout(), v)
		},
	}
}

func imageCmd(o *options) *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "image [file]",
		Short: "Select the image to upload, or --delete it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := o.client()
			var (
				v   popup.View
				err error
			)
			switch {
			case remove:
				v, err = c.DeleteImage(cmd.Context())
			case len(args) == 1:
				v, err = c.UploadImage(cmd.Context(), args[0])
			default:
				return fmt.Errorf("image: give a file or --delete")
			}
			if err != nil {
				return err
			}
			return o.printView(cmd.OutOrStdout(), v)
		},
	}
	cmd.Flags().BoolVar(&remove, "delete", false, "clear the selected image")
	return cmd
}

func clearCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [all|prompt|answer]",
		Short: "Clear one field of the active QA, or the whole form",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "all"
			if len(args) == 1 {
				target = args[0]
			}
			v, err := o.client().Clear(cmd.Context(), target)
			if err != nil {
				return err
			}
			return o.printView(cmd.OutOrStdout(), v)
		},
	}
}

func fillCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "fill",
		Short: "Fill and submit the five steps in the active tab",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			if err := o.client().Fill(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted in %s\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func pullCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "pull <task|qa>",
		Short: "Copy the task id, or the active QA's prompt and answer, from the page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := o.client()
			out := cmd.OutOrStdout()
			switch strings.ToLower(args[0]) {
			case "task", "taskid":
				r, err := c.PullTaskID(cmd.Context())
				if err != nil {
					return err
				}
				if !r.Found {
					fmt.Fprintln(out, "no task id on the page")
					return nil
				}
				return o.printView(out, r.View)
			case "qa":
				r, err := c.PullQA(cmd.Context())
				if err != nil {
					return err
				}
				if !r.Found {
					fmt.Fprintln(out, "no prompt or answer on the page")
					return nil
				}
				return o.printView(out, r.View)
			}
			return fmt.Errorf("pull: unknown target %q (task, qa)", args[0])
		},
	}
}

// copyTo is swapped out by tests; the system clipboard needs a display.
var copyTo = func(text string) error {
	if err := clipboard.Init(); err != nil {
		return fmt.Errorf("clipboard: %w", err)
	}
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

func copyCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "copy <task|prompt|answer>",
		Short: "Copy a field to the system clipboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			field, err := fieldName(args[0])
			if err != nil {
				return err
			}
			text, err := o.client().Field(cmd.Context(), field)
			if err != nil {
				return err
			}
			if err := copyTo(text); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "copied %s (%d chars)\n", field, len([]rune(text)))
			return nil
		},
	}
}

func tuiCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive popup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(context.Background(), o.client())
		},
	}
}
