package main

import (
	"context"

	"github.com/13illydakid/p-lizard-ext/internal/formstate"
	"github.com/13illydakid/p-lizard-ext/internal/popup"
	"github.com/13illydakid/p-lizard-ext/internal/tabexec"
)

// PopupAPI is what handlers drive. popup.Controller implements it.
type PopupAPI interface {
	View() popup.View
	State() formstate.State
	Field(name string) (string, error)

	SetTaskID(v string)
	SetPrompt(v string)
	SetAnswer(v string)
	ToggleRole(pressed formstate.Role) formstate.Role
	SelectQA(qa string) error

	SetImage(name, dataURL string)
	LoadImageFile(name string, data []byte)
	DeleteImage()

	ClearPrompt()
	ClearAnswer()
	Clear(ctx context.Context) error

	FillAndSubmit(ctx context.Context) error
	PullTaskID(ctx context.Context) (string, error)
	PullQA(ctx context.Context) (popup.PulledQA, bool, error)
}

// TabsAPI is the browser half handlers need. tabexec.Executor implements
// it; tests can mock it.
type TabsAPI interface {
	ListTabs(ctx context.Context) ([]tabexec.TabInfo, error)
	ActiveTab(ctx context.Context) (tabexec.TabInfo, error)
}
