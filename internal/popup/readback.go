package popup

import (
	"encoding/json"
	"strings"

	"github.com/13illydakid/p-lizard-ext/internal/tabexec"
)

// TaskIDSelector locates the task id on the annotation page.
const TaskIDSelector = "p.project-item-name"

const taskIDJS = `function() {
	const el = document.querySelector("p.project-item-name");
	return el && el.textContent ? el.textContent.trim() : "";
}`

// qaJS reads the idx-th rewrite question/answer, falling back to the first
// pair by id when the page has fewer.
const qaJS = `function(idx) {
	const prompts = Array.from(document.querySelectorAll('[id^="rewrite_question_"]'));
	const answers = Array.from(document.querySelectorAll('[id^="rewrite_answer_"]'));
	const p = prompts[idx] || document.querySelector("#rewrite_question_1");
	const a = answers[idx] || document.querySelector("#rewrite_answer_1");
	const text = (el) => {
		if (!el) return "";
		const v = "value" in el ? el.value : el.textContent;
		return String(v == null ? "" : v).trim();
	};
	return {prompt: text(p), answer: text(a)};
}`

// PulledQA is what PullQA read from the page.
type PulledQA struct {
	Prompt string `json:"prompt"`
	Answer string `json:"answer"`
}

func firstTaskID(results []tabexec.FrameResult) string {
	for _, r := range results {
		if r.Value == nil {
			continue
		}
		var s string
		if json.Unmarshal(r.Value, &s) != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func firstQA(results []tabexec.FrameResult) (PulledQA, bool) {
	for _, r := range results {
		if r.Value == nil {
			continue
		}
		var q PulledQA
		if json.Unmarshal(r.Value, &q) != nil {
			continue
		}
		if q.Prompt != "" || q.Answer != "" {
			return q, true
		}
	}
	return PulledQA{}, false
}
