package session

import "github.com/ashureev/nanostyle/internal/domain"

var questions = [domain.QuestionCount]string{
	"What are we generating (product/lifestyle) and what's the moment? (subject + action + setting)",
	"What's the lighting scenario? (golden hour backlight / soft window light / controlled side light / practicals)",
	"Give 3-5 vibe words + any must-haves (colors/props/text/no-text) to keep it authentic.",
}

var defaultAnswers = [domain.QuestionCount]string{
	"A premium product hero moment in a believable everyday setting.",
	"Soft directional natural light with gentle contrast.",
	"Clean, modern, tactile, editorial, no visible text overlays.",
}

// QuestionText returns the canonical text of question q (1..3).
func QuestionText(q domain.QuestionIndex) string {
	if !q.Valid() {
		return ""
	}
	return questions[q-1]
}

// DefaultAnswer returns the substitute committed for a sparse answer to q.
func DefaultAnswer(q domain.QuestionIndex) string {
	if !q.Valid() {
		return ""
	}
	return defaultAnswers[q-1]
}
