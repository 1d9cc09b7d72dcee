package formstate

import (
	"encoding/json"
	"strconv"
)

// legacyKeys are the top-level fields of the flat record written by the
// first release, before per-QA slots existed.
var legacyKeys = []string{"taskId", "annotatorOrReviewer", "imageAndPrompt", "rewriteAnswer"}

// Outcome describes what Hydrate did with the stored record.
type Outcome struct {
	// Persist is set whenever a record was present; the normalized shape
	// must be written back so per-QA image fields do not linger.
	Persist bool
	// Migrated is set when the legacy flat shape was lifted.
	Migrated bool
}

// Hydrate turns whatever was stored under StorageKey into a normalized State.
// A nil, empty or non-object raw value yields Reset() and nothing to persist.
func Hydrate(raw json.RawMessage) (State, Outcome) {
	if len(raw) == 0 {
		return Reset(), Outcome{}
	}
	var stored map[string]any
	if err := json.Unmarshal(raw, &stored); err != nil || stored == nil {
		return Reset(), Outcome{}
	}

	if looksLegacy(stored) {
		return migrateLegacy(stored), Outcome{Persist: true, Migrated: true}
	}
	return normalize(stored), Outcome{Persist: true}
}

func looksLegacy(stored map[string]any) bool {
	if truthy(stored["perQa"]) {
		return false
	}
	for _, k := range legacyKeys {
		if _, ok := stored[k]; ok {
			return true
		}
	}
	return false
}

func migrateLegacy(stored map[string]any) State {
	s := Reset()
	s.Shared = Shared{
		TaskID:              str(stored["taskId"]),
		AnnotatorOrReviewer: exactRole(stored["annotatorOrReviewer"]),
		ImageDataURL:        str(stored["imageDataUrl"]),
		ImageFileName:       str(stored["imageFileName"]),
		LastQA:              DefaultQA,
	}
	s.PerQA[DefaultQA] = QA{
		ImageAndPrompt: str(stored["imageAndPrompt"]),
		RewriteAnswer:  str(stored["rewriteAnswer"]),
	}
	return s
}

func normalize(stored map[string]any) State {
	shared := object(stored["shared"])
	perQA := object(stored["perQa"])

	imageDataURL := str(shared["imageDataUrl"])
	imageFileName := str(shared["imageFileName"])
	for _, k := range QAKeys {
		qa := object(perQA[k])
		if imageDataURL == "" {
			imageDataURL = str(qa["imageDataUrl"])
		}
		if imageFileName == "" {
			imageFileName = str(qa["imageFileName"])
		}
	}

	s := Reset()
	s.Shared = Shared{
		TaskID:              str(shared["taskId"]),
		AnnotatorOrReviewer: exactRole(shared["annotatorOrReviewer"]),
		ImageDataURL:        imageDataURL,
		ImageFileName:       imageFileName,
		LastQA:              DefaultQA,
	}
	if qa := str(shared["lastQa"]); IsValidQA(qa) {
		s.Shared.LastQA = qa
	}
	for _, k := range QAKeys {
		qa := object(perQA[k])
		s.PerQA[k] = QA{
			ImageAndPrompt: str(qa["imageAndPrompt"]),
			RewriteAnswer:  str(qa["rewriteAnswer"]),
		}
	}
	return s
}

// exactRole only accepts the two spellings the popup itself writes.
func exactRole(v any) Role {
	switch r := Role(str(v)); r {
	case RoleAnnotating, RoleReviewing:
		return r
	}
	return RoleNone
}

func object(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	}
	return true
}
