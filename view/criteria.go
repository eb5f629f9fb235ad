package view

import (
	"strings"

	"taskboard/domain"
)

// All disables a filter.
const All = "ALL"

// SortKey selects the ordering inside a column.
type SortKey string

const (
	SortCreated  SortKey = "CREATED"
	SortDueDate  SortKey = "DUE_DATE"
	SortPriority SortKey = "PRIORITY"
)

func (k SortKey) Valid() bool {
	switch k {
	case SortCreated, SortDueDate, SortPriority:
		return true
	}
	return false
}

// DueFilter buckets due dates relative to the current day.
type DueFilter string

const (
	DueAll       DueFilter = All
	DueToday     DueFilter = "TODAY"
	DueThisWeek  DueFilter = "THIS_WEEK"
	DueThisMonth DueFilter = "THIS_MONTH"
)

func (f DueFilter) Valid() bool {
	switch f {
	case DueAll, DueToday, DueThisWeek, DueThisMonth:
		return true
	}
	return false
}

// Criteria is the active filter and sort configuration of a board.
// Empty filter fields behave like ALL.
type Criteria struct {
	SortBy   SortKey
	Status   string
	Priority string
	Due      DueFilter
}

// Default shows every task in board order.
func Default() Criteria {
	return Criteria{SortBy: SortCreated, Status: All, Priority: All, Due: DueAll}
}

func (c Criteria) normalized() Criteria {
	if c.SortBy == "" {
		c.SortBy = SortCreated
	}
	if c.Status == "" {
		c.Status = All
	}
	if c.Priority == "" {
		c.Priority = All
	}
	if c.Due == "" {
		c.Due = DueAll
	}
	return c
}

func (c Criteria) Validate() error {
	n := c.normalized()
	if !n.SortBy.Valid() {
		return &domain.ValidationError{Field: "sortBy", Message: "unknown sort key " + string(c.SortBy)}
	}
	if n.Status != All && !domain.Status(n.Status).Valid() {
		return &domain.ValidationError{Field: "filterStatus", Message: "unknown status " + c.Status}
	}
	if n.Priority != All && !domain.Priority(n.Priority).Valid() {
		return &domain.ValidationError{Field: "filterPriority", Message: "unknown priority " + c.Priority}
	}
	if !n.Due.Valid() {
		return &domain.ValidationError{Field: "filterDueDate", Message: "unknown due date filter " + string(c.Due)}
	}
	return nil
}

// ParseCriteria builds validated criteria from user input such as CLI flags.
func ParseCriteria(sortBy, status, priority, due string) (Criteria, error) {
	c := Criteria{
		SortBy:   SortKey(upper(sortBy)),
		Status:   upper(status),
		Priority: upper(priority),
		Due:      DueFilter(upper(due)),
	}.normalized()
	if err := c.Validate(); err != nil {
		return Criteria{}, err
	}
	return c, nil
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// SortKeys lists the sort options in the order a UI cycles through them.
func SortKeys() []SortKey {
	return []SortKey{SortCreated, SortDueDate, SortPriority}
}

// DueFilters lists the due date buckets in UI order.
func DueFilters() []DueFilter {
	return []DueFilter{DueAll, DueToday, DueThisWeek, DueThisMonth}
}
