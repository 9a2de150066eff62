package engine

import (
	"time"
)

// ActionType is the discriminant of an Action.
type ActionType string

// Action types executed by engines that support scripted pipelines.
const (
	ActionWait              ActionType = "wait"
	ActionScreenshot        ActionType = "screenshot"
	ActionClick             ActionType = "click"
	ActionWrite             ActionType = "write"
	ActionPress             ActionType = "press"
	ActionScroll            ActionType = "scroll"
	ActionExecuteJavascript ActionType = "executeJavascript"
	ActionScrape            ActionType = "scrape"
)

// Action is one step of a browser pipeline. Only the fields relevant to Type
// are set; the rest stay zero and are omitted on the wire.
type Action struct {
	Type         ActionType `json:"type" validate:"required,oneof=wait screenshot click write press scroll executeJavascript scrape"`
	Milliseconds int        `json:"milliseconds,omitempty"`
	Selector     string     `json:"selector,omitempty"`
	FullPage     bool       `json:"fullPage,omitempty"`
	Text         string     `json:"text,omitempty"`
	Key          string     `json:"key,omitempty"`
	Direction    string     `json:"direction,omitempty"`
	Script       string     `json:"script,omitempty"`
}

// WaitAction pauses the pipeline for d, truncated to whole milliseconds.
func WaitAction(d time.Duration) Action {
	return Action{Type: ActionWait, Milliseconds: int(d.Milliseconds())}
}

// ScreenshotAction captures the viewport, or the whole page when fullPage is set.
func ScreenshotAction(fullPage bool) Action {
	return Action{Type: ActionScreenshot, FullPage: fullPage}
}
