package types

import "time"

type Event struct {
	Type    string         `json:"type"`
	Ts      time.Time      `json:"timestamp"`
	Payload map[string]any `json:"payload,omitempty"`
}

const (
	StatusCreated  = "created"
	StatusActive   = "active"
	StatusComplete = "complete"
	StatusEnded    = "ended"
)

// CompanyContext is the research summary an interview is tailored to.
type CompanyContext struct {
	Name            string   `json:"name"`
	Industry        string   `json:"industry,omitempty"`
	Size            string   `json:"size,omitempty"`
	Headquarters    string   `json:"headquarters,omitempty"`
	Mission         string   `json:"mission,omitempty"`
	Culture         string   `json:"culture,omitempty"`
	ExperienceLevel string   `json:"experience_level,omitempty"`
	Languages       []string `json:"programming_languages,omitempty"`
	Frameworks      []string `json:"frameworks_tools,omitempty"`
	MustHaveSkills  []string `json:"must_have_skills,omitempty"`
	LookFor         []string `json:"what_they_look_for,omitempty"`
	RedFlags        []string `json:"red_flags_to_avoid,omitempty"`
	Values          []string `json:"company_values,omitempty"`

	BehavioralQuestions   []string `json:"behavioral_questions,omitempty"`
	CodingProblems        []string `json:"coding_problems,omitempty"`
	SystemDesignQuestions []string `json:"system_design_questions,omitempty"`
}

type Session struct {
	ID        string         `json:"session_id"`
	CreatedAt time.Time      `json:"created_at"`
	Status    string         `json:"status"`
	Company   CompanyContext `json:"company"`

	MaxTurns   int    `json:"max_turns"`
	Turns      int    `json:"turn"`
	Transcript string `json:"-"`
	Complete   bool   `json:"interview_complete"`

	LastInteraction time.Time `json:"last_interaction"`
}
