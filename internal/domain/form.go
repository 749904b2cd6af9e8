package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Priority is the urgency a form submission is tagged with.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

const (
	minAgentNameLen       = 2
	minTaskDescriptionLen = 10
)

// FormData is the payload sent to the webhook. TaskDescription carries the
// user's message; everything else is optional. Extra holds arbitrary
// additional keys that are sent alongside the known ones.
type FormData struct {
	AgentName       string   `json:"agentName,omitempty"`
	TaskDescription string   `json:"taskDescription"`
	Priority        Priority `json:"priority,omitempty"`
	FileDataURI     string   `json:"fileDataUri,omitempty"`
	FileName        string   `json:"fileName,omitempty"`
	FileMimeType    string   `json:"fileMimeType,omitempty"`

	Extra map[string]any `json:"-"`
}

var formKnownKeys = map[string]bool{
	"agentName":       true,
	"taskDescription": true,
	"priority":        true,
	"fileDataUri":     true,
	"fileName":        true,
	"fileMimeType":    true,
}

// MarshalJSON flattens Extra into the same object. Known keys win.
func (f FormData) MarshalJSON() ([]byte, error) {
	type plain FormData
	known, err := json.Marshal(plain(f))
	if err != nil {
		return nil, err
	}
	if len(f.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]any, len(f.Extra)+len(formKnownKeys))
	for k, v := range f.Extra {
		if formKnownKeys[k] {
			continue
		}
		merged[k] = v
	}
	var base map[string]any
	if err := json.Unmarshal(known, &base); err != nil {
		return nil, err
	}
	for k, v := range base {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON collects unknown keys into Extra.
func (f *FormData) UnmarshalJSON(data []byte) error {
	type plain FormData
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k, v := range all {
		if formKnownKeys[k] {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]any)
		}
		p.Extra[k] = v
	}
	*f = FormData(p)
	return nil
}

// HasAttachment reports whether a file is embedded in the payload.
func (f FormData) HasAttachment() bool {
	return f.FileDataURI != ""
}

// FieldError is a single validation failure on the structured form.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "invalid form: " + strings.Join(msgs, "; ")
}

// Normalize trims text fields and fills the default priority.
func (f *FormData) Normalize() {
	f.AgentName = strings.TrimSpace(f.AgentName)
	f.TaskDescription = strings.TrimSpace(f.TaskDescription)
	if f.Priority == "" {
		f.Priority = PriorityMedium
	}
}

// ValidateForm applies the structured-form rules. The chat path does not
// call this; a chat message only needs a non-empty task description.
func (f FormData) ValidateForm() error {
	var fields []FieldError
	if utf8.RuneCountInString(strings.TrimSpace(f.AgentName)) < minAgentNameLen {
		fields = append(fields, FieldError{
			Field:   "agentName",
			Message: fmt.Sprintf("Agent name must be at least %d characters.", minAgentNameLen),
		})
	}
	if utf8.RuneCountInString(strings.TrimSpace(f.TaskDescription)) < minTaskDescriptionLen {
		fields = append(fields, FieldError{
			Field:   "taskDescription",
			Message: fmt.Sprintf("Task description must be at least %d characters.", minTaskDescriptionLen),
		})
	}
	if !f.Priority.Valid() {
		fields = append(fields, FieldError{
			Field:   "priority",
			Message: "Priority must be one of: low, medium, high.",
		})
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
