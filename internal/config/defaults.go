package config

// GetDefaultQuestionTemplate returns the default template for question generation
func GetDefaultQuestionTemplate() string {
	return `You are writing multiple-choice practice questions for a K-12 learning app. Write {{.Count}} questions for grade {{.Grade}} {{.Subject}}, topic "{{.Topic}}", subtopic "{{.Subtopic}}", at {{.Difficulty}} difficulty.

Each question must have:
- A clear, self-contained stem a grade {{.Grade}} student can read unaided
- Exactly four answer options, pairwise distinct, with exactly one correct
- A correct_answer equal to one option, character for character
- A one- or two-sentence rationale explaining the correct answer
{{if .Avoid}}
Do NOT reuse or lightly rephrase any of these existing stems:
{{range .Avoid}}- {{.}}
{{end}}{{end}}
Return ONLY a valid JSON array of objects (no markdown, no additional text):
[{"stem": "...", "options": ["...", "...", "...", "..."], "correct_answer": "...", "rationale": "..."}]`
}

// GetDefaultSystemPrompt returns the default system prompt for question generation
func GetDefaultSystemPrompt() string {
	return `You are a meticulous K-12 assessment item writer. You write clear, curriculum-aligned multiple-choice questions with exactly one correct answer and plausible distractors, and you respond with strict JSON and nothing else.`
}
