package models

import (
	"encoding/json"
	"fmt"
)

// storyAlias avoids recursing into the custom JSON methods.
type storyAlias struct {
	ID                 string          `json:"id"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	AcceptanceCriteria json.RawMessage `json:"acceptanceCriteria"`
	Complexity         Complexity      `json:"complexity"`
	Priority           int             `json:"priority"`
	Passes             bool            `json:"passes"`
	Skipped            bool            `json:"skipped,omitempty"`
}

// UnmarshalJSON accepts acceptanceCriteria as either an ordered list of
// free-text strings or a list of structured criterion objects.
func (s *UserStory) UnmarshalJSON(data []byte) error {
	var alias storyAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	s.ID = alias.ID
	s.Title = alias.Title
	s.Description = alias.Description
	s.Complexity = alias.Complexity
	s.Priority = alias.Priority
	s.Passes = alias.Passes
	s.Skipped = alias.Skipped
	s.AcceptanceCriteria = nil
	s.RawCriteria = nil

	if len(alias.AcceptanceCriteria) == 0 {
		return nil
	}

	var strings []string
	if err := json.Unmarshal(alias.AcceptanceCriteria, &strings); err == nil {
		s.RawCriteria = strings
		return nil
	}

	var typed []AcceptanceCriterion
	if err := json.Unmarshal(alias.AcceptanceCriteria, &typed); err != nil {
		return fmt.Errorf("story %s: acceptanceCriteria is neither strings nor objects: %w", alias.ID, err)
	}
	s.AcceptanceCriteria = typed
	return nil
}

// MarshalJSON writes acceptanceCriteria back in the form it was read.
func (s UserStory) MarshalJSON() ([]byte, error) {
	var criteria json.RawMessage
	var err error

	if s.HasStructuredCriteria() {
		criteria, err = json.Marshal(s.AcceptanceCriteria)
	} else {
		raw := s.RawCriteria
		if raw == nil {
			raw = []string{}
		}
		criteria, err = json.Marshal(raw)
	}
	if err != nil {
		return nil, err
	}

	return json.Marshal(storyAlias{
		ID:                 s.ID,
		Title:              s.Title,
		Description:        s.Description,
		AcceptanceCriteria: criteria,
		Complexity:         s.Complexity,
		Priority:           s.Priority,
		Passes:             s.Passes,
		Skipped:            s.Skipped,
	})
}
