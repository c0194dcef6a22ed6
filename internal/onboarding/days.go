package onboarding

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PlanDay is one day of a plan as shown in the day list.
type PlanDay struct {
	Title     string   `json:"title"`
	Exercises []string `json:"exercises,omitempty"`
}

type dayEntry struct {
	Day       json.RawMessage `json:"day"`
	Title     string          `json:"title"`
	Exercises []string        `json:"exercises"`
}

// PlanDays reads plan entries as days. A string entry is a day title; an
// object entry may carry "day" or "title" and an "exercises" list. Entries of
// any other shape are shown by their raw JSON.
func PlanDays(plan WorkoutPlan) []PlanDay {
	days := make([]PlanDay, 0, plan.Len())
	for i, raw := range plan.Entries {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			days = append(days, PlanDay{Title: s})
			continue
		}

		var e dayEntry
		if err := json.Unmarshal(raw, &e); err == nil && (e.Title != "" || len(e.Day) > 0 || len(e.Exercises) > 0) {
			title := e.Title
			if title == "" {
				title = dayLabel(e.Day, i)
			}
			days = append(days, PlanDay{Title: title, Exercises: e.Exercises})
			continue
		}

		days = append(days, PlanDay{Title: strings.TrimSpace(string(raw))})
	}
	return days
}

func dayLabel(raw json.RawMessage, index int) string {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return fmt.Sprintf("Day %d", n)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s
	}
	return fmt.Sprintf("Day %d", index+1)
}
