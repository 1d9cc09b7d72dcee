package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/13illydakid/p-lizard-ext/internal/tabexec"
)

const sessionFile = "sessions.json"

// TabState represents a saved tab for session persistence.
type TabState struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// SessionState is the on-disk format for saved sessions.
type SessionState struct {
	Tabs    []TabState `json:"tabs"`
	SavedAt string     `json:"savedAt"`
}

type tabOpener interface {
	OpenTab(ctx context.Context, url string) (string, error)
}

// markCleanExit patches Chrome's preferences to prevent "didn't shut down correctly" bar.
func markCleanExit(profileDir string) {
	prefsPath := filepath.Join(profileDir, "Default", "Preferences")
	data, err := os.ReadFile(prefsPath)
	if err != nil {
		return
	}
	patched := strings.ReplaceAll(string(data), `"exit_type":"Crashed"`, `"exit_type":"Normal"`)
	patched = strings.ReplaceAll(patched, `"exited_cleanly":false`, `"exited_cleanly":true`)
	if patched != string(data) {
		if err := os.WriteFile(prefsPath, []byte(patched), 0644); err != nil {
			slog.Warn("failed to patch prefs", "err", err)
		}
	}
}

func restorable(url string) bool {
	switch url {
	case "", "about:blank", "chrome://newtab/":
		return false
	}
	return !strings.Contains(url, "/sorry/")
}

// saveSession records the open annotation tabs so the next start can
// reopen them.
func saveSession(ctx context.Context, tabs TabsAPI, stateDir string) {
	if tabs == nil {
		return
	}
	open, err := tabs.ListTabs(ctx)
	if err != nil {
		slog.Warn("failed to save session", "err", err)
		return
	}

	saved := make([]TabState, 0, len(open))
	for _, t := range open {
		if restorable(t.URL) {
			saved = append(saved, TabState{ID: t.ID, URL: t.URL, Title: t.Title})
		}
	}

	state := SessionState{Tabs: saved, SavedAt: time.Now().UTC().Format(time.RFC3339)}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		slog.Warn("failed to marshal session", "err", err)
		return
	}
	path := filepath.Join(stateDir, sessionFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		slog.Warn("failed to write session", "err", err)
		return
	}
	slog.Info("saved session", "tabs", len(saved), "path", path)
}

// restoreSession reopens the tabs saved by saveSession and returns how many
// were opened.
func restoreSession(ctx context.Context, opener tabOpener, stateDir string) int {
	data, err := os.ReadFile(filepath.Join(stateDir, sessionFile))
	if err != nil {
		return 0
	}
	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		slog.Warn("ignoring corrupt session file", "err", err)
		return 0
	}

	restored := 0
	for _, tab := range state.Tabs {
		if !restorable(tab.URL) {
			continue
		}
		if _, err := opener.OpenTab(ctx, tab.URL); err != nil {
			slog.Warn("failed to restore tab", "url", tab.URL, "err", err)
			continue
		}
		restored++
	}
	if restored > 0 {
		slog.Info("restored tabs from previous session", "tabs", restored)
	}
	return restored
}

var _ tabOpener = (*tabexec.Executor)(nil)
