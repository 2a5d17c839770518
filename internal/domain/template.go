// Package domain contains core domain types for the NanoStyle service.
package domain

import "time"

// Template describes the initial-input prompt and question count of a
// refinement dialogue.
type Template struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	InitialInputLabel string    `json:"initialInputLabel"`
	QuestionCount     int       `json:"questionCount"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}
