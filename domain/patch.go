package domain

import (
	"strings"

	"github.com/bytedance/sonic"
)

// Patch carries a partial task update. Nil fields are left untouched.
// ClearDueDate removes the due date and is sent as "dueDate": null.
type Patch struct {
	Title        *string
	Description  *string
	Status       *Status
	Priority     *Priority
	DueDate      *Date
	ClearDueDate bool
}

// StatusPatch is the body of a column move.
func StatusPatch(s Status) Patch {
	return Patch{Status: &s}
}

func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.Priority == nil && p.DueDate == nil && !p.ClearDueDate
}

// OnlyStatus reports whether the patch changes nothing but the status.
func (p Patch) OnlyStatus() bool {
	return p.Status != nil && p.Title == nil && p.Description == nil &&
		p.Priority == nil && p.DueDate == nil && !p.ClearDueDate
}

func (p Patch) Validate() error {
	if p.IsEmpty() {
		return &ValidationError{Message: "patch has no fields"}
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if p.Status != nil && !p.Status.Valid() {
		return &ValidationError{Field: "status", Message: "unknown status " + string(*p.Status)}
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return &ValidationError{Field: "priority", Message: "unknown priority " + string(*p.Priority)}
	}
	if p.DueDate != nil && p.ClearDueDate {
		return &ValidationError{Field: "dueDate", Message: "cannot set and clear the due date"}
	}
	return nil
}

// Apply returns t with the patch applied.
func (p Patch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.DueDate != nil {
		d := *p.DueDate
		t.DueDate = &d
	}
	if p.ClearDueDate {
		t.DueDate = nil
	}
	return t
}

// WithoutStatus drops the status field so a field edit cannot move a task.
func (p Patch) WithoutStatus() Patch {
	p.Status = nil
	return p
}

func (p Patch) MarshalJSON() ([]byte, error) {
	body := make(map[string]any, 5)
	if p.Title != nil {
		body["title"] = *p.Title
	}
	if p.Description != nil {
		body["description"] = *p.Description
	}
	if p.Status != nil {
		body["status"] = string(*p.Status)
	}
	if p.Priority != nil {
		body["priority"] = string(*p.Priority)
	}
	if p.DueDate != nil {
		body["dueDate"] = p.DueDate.String()
	}
	if p.ClearDueDate {
		body["dueDate"] = nil
	}
	return sonic.Marshal(body)
}

func (p *Patch) UnmarshalJSON(data []byte) error {
	var fields struct {
		Title       *string   `json:"title"`
		Description *string   `json:"description"`
		Status      *Status   `json:"status"`
		Priority    *Priority `json:"priority"`
		DueDate     *Date     `json:"dueDate"`
	}
	if err := sonic.Unmarshal(data, &fields); err != nil {
		return err
	}
	var present map[string]any
	if err := sonic.Unmarshal(data, &present); err != nil {
		return err
	}
	*p = Patch{
		Title:       fields.Title,
		Description: fields.Description,
		Status:      fields.Status,
		Priority:    fields.Priority,
		DueDate:     fields.DueDate,
	}
	if v, ok := present["dueDate"]; ok && v == nil {
		p.DueDate = nil
		p.ClearDueDate = true
	}
	return nil
}
