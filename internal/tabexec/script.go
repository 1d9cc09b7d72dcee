package tabexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chromedp/chromedp"
)

// WorldName names the isolated world scripts run in.
const WorldName = "plizard"

// FrameResult is the outcome of one frame. Value is nil when the script
// threw or the frame could not be reached.
type FrameResult struct {
	FrameID string          `json:"frameId"`
	URL     string          `json:"url"`
	Value   json.RawMessage `json:"value"`
}

type frame struct {
	ID  string
	URL string
}

type frameTree struct {
	Frame struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	} `json:"frame"`
	ChildFrames []frameTree `json:"childFrames"`
}

func (t frameTree) flatten(out []frame) []frame {
	out = append(out, frame{ID: t.Frame.ID, URL: t.Frame.URL})
	for _, c := range t.ChildFrames {
		out = c.flatten(out)
	}
	return out
}

// RunInActiveTab calls the JS function declaration fn with args in every
// frame of the active tab and returns one result per frame, main frame
// first. Args must be JSON-serializable.
func (e *Executor) RunInActiveTab(ctx context.Context, fn string, args ...any) ([]FrameResult, error) {
	var results []FrameResult
	err := e.WithActiveTab(ctx, func(tabCtx context.Context, tab TabInfo) error {
		var err error
		results, err = e.runInFrames(tabCtx, tab.ID, fn, args, true)
		return err
	})
	return results, err
}

// FireInActiveTab is RunInActiveTab with the results discarded.
func (e *Executor) FireInActiveTab(ctx context.Context, fn string, args ...any) error {
	return e.WithActiveTab(ctx, func(tabCtx context.Context, tab TabInfo) error {
		_, err := e.runInFrames(tabCtx, tab.ID, fn, args, false)
		return err
	})
}

// RunInMainFrame calls fn in the tab's top frame only. Unlike the all-frames
// variant, a thrown exception is returned as a *ScriptError. Failures of the
// CDP calls themselves come back as *ScriptExecutionError.
func RunInMainFrame(tabCtx context.Context, fn string, out any, args ...any) error {
	var raw json.RawMessage
	err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		frames, err := frames(ctx)
		if err != nil {
			return err
		}
		ctxID, err := isolatedWorld(ctx, frames[0].ID)
		if err != nil {
			return err
		}
		raw, err = callFunction(ctx, ctxID, fn, args, true)
		return err
	}))
	if err != nil {
		return execErr(tabCtx, "chromedp.Run", err)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return execErr(tabCtx, "decode result", err)
	}
	return nil
}

func (e *Executor) runInFrames(tabCtx context.Context, tabID, fn string, args []any, wantValues bool) ([]FrameResult, error) {
	var results []FrameResult
	err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		all, err := frames(ctx)
		if err != nil {
			return err
		}
		results = make([]FrameResult, 0, len(all))
		for _, f := range all {
			r := FrameResult{FrameID: f.ID, URL: f.URL}
			ctxID, err := isolatedWorld(ctx, f.ID)
			if err == nil {
				r.Value, err = callFunction(ctx, ctxID, fn, args, wantValues)
			}
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.opts.Logger.Debug("frame script failed", "tab", tabID, "frame", f.ID, "err", err)
				r.Value = nil
			}
			results = append(results, r)
		}
		return nil
	}))
	return results, execErr(tabCtx, "chromedp.Run", err)
}

func frames(ctx context.Context) ([]frame, error) {
	var raw json.RawMessage
	if err := chromedp.FromContext(ctx).Target.Execute(ctx, "Page.getFrameTree", nil, &raw); err != nil {
		return nil, execErr(ctx, "Page.getFrameTree", err)
	}
	var resp struct {
		FrameTree frameTree `json:"frameTree"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, execErr(ctx, "Page.getFrameTree", fmt.Errorf("unmarshal frame tree: %w", err))
	}
	if resp.FrameTree.Frame.ID == "" {
		return nil, execErr(ctx, "Page.getFrameTree", errors.New("empty frame tree"))
	}
	return resp.FrameTree.flatten(nil), nil
}

func isolatedWorld(ctx context.Context, frameID string) (int64, error) {
	p := map[string]any{
		"frameId":             frameID,
		"worldName":           WorldName,
		"grantUniveralAccess": true,
	}
	var raw json.RawMessage
	if err := chromedp.FromContext(ctx).Target.Execute(ctx, "Page.createIsolatedWorld", p, &raw); err != nil {
		return 0, execErr(ctx, "Page.createIsolatedWorld", err)
	}
	var resp struct {
		ExecutionContextID int64 `json:"executionContextId"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, execErr(ctx, "Page.createIsolatedWorld", fmt.Errorf("unmarshal isolated world: %w", err))
	}
	return resp.ExecutionContextID, nil
}

func callFunction(ctx context.Context, execCtxID int64, fn string, args []any, returnByValue bool) (json.RawMessage, error) {
	callArgs := make([]map[string]any, len(args))
	for i, a := range args {
		callArgs[i] = map[string]any{"value": a}
	}
	p := map[string]any{
		"functionDeclaration": fn,
		"executionContextId":  execCtxID,
		"arguments":           callArgs,
		"returnByValue":       returnByValue,
		"awaitPromise":        true,
	}
	var raw json.RawMessage
	if err := chromedp.FromContext(ctx).Target.Execute(ctx, "Runtime.callFunctionOn", p, &raw); err != nil {
		return nil, execErr(ctx, "Runtime.callFunctionOn", err)
	}
	var resp struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, execErr(ctx, "Runtime.callFunctionOn", fmt.Errorf("unmarshal call result: %w", err))
	}
	if d := resp.ExceptionDetails; d != nil {
		msg := d.Exception.Description
		if msg == "" {
			msg = d.Text
		}
		return nil, &ScriptError{Message: msg}
	}
	if !returnByValue || resp.Result.Type == "undefined" || len(resp.Result.Value) == 0 {
		return json.RawMessage("null"), nil
	}
	return resp.Result.Value, nil
}

// execErr tags a failure of the CDP plumbing with the call that produced it
// and the tab it ran in. Script exceptions, already tagged errors and
// context errors pass through.
func execErr(ctx context.Context, op string, err error) error {
	var (
		se *ScriptError
		xe *ScriptExecutionError
	)
	switch {
	case err == nil, errors.As(err, &se), errors.As(err, &xe):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	var tabID string
	if c := chromedp.FromContext(ctx); c != nil && c.Target != nil {
		tabID = string(c.Target.TargetID)
	}
	return &ScriptExecutionError{Op: op, TabID: tabID, Err: err}
}

// ScriptError is an exception thrown by an injected script.
type ScriptError struct {
	Message string
}

func (e *ScriptError) Error() string { return "script threw: " + e.Message }
