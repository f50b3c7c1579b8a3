package interview

import (
	"fmt"
	"strings"

	"yuzu/interviewer/internal/types"
)

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func joinOr(items []string, def string) string {
	if len(items) == 0 {
		return def
	}
	return strings.Join(items, ", ")
}

func bullets(items []string, def string) string {
	if len(items) == 0 {
		return def
	}
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(it)
	}
	return b.String()
}

// SystemContext renders the company research into the interviewer's brief.
func SystemContext(c types.CompanyContext, persona string) string {
	name := orDefault(c.Name, "the company")
	stack := joinOr(c.Languages, "various technologies")

	var b strings.Builder
	fmt.Fprintf(&b, "[COMPANY PROFILE]\nName: %s\nIndustry: %s\n", name, orDefault(c.Industry, "technology"))
	if c.Size != "" {
		fmt.Fprintf(&b, "Size: %s\n", c.Size)
	}
	if c.Headquarters != "" {
		fmt.Fprintf(&b, "Headquarters: %s\n", c.Headquarters)
	}
	if c.Mission != "" {
		fmt.Fprintf(&b, "Mission: %s\n", c.Mission)
	}
	fmt.Fprintf(&b, "Culture: %s\n", orDefault(c.Culture, "Professional"))

	fmt.Fprintf(&b, "\n[TECHNICAL REQUIREMENTS]\nExperience Level: %s\nProgramming Languages: %s\nFrameworks/Tools: %s\nMust-have Skills: %s\n",
		orDefault(c.ExperienceLevel, "N/A"), stack, joinOr(c.Frameworks, "standard tools"), joinOr(c.MustHaveSkills, "N/A"))

	fmt.Fprintf(&b, "\n[INTERVIEW STRATEGY]\nFocus Areas: %s\nRed Flags: %s\nCompany Values: %s\n",
		joinOr(c.LookFor, "technical skills, problem-solving"), joinOr(c.RedFlags, "N/A"), joinOr(c.Values, "N/A"))

	fmt.Fprintf(&b, "\n[POTENTIAL QUESTIONS]\nCoding:\n%s\n\nSystem Design:\n%s\n\nBehavioral:\n%s\n",
		bullets(c.CodingProblems, "General algorithmic questions"),
		bullets(c.SystemDesignQuestions, "Scalability and architecture"),
		bullets(c.BehavioralQuestions, "Situational and experience-based"))

	fmt.Fprintf(&b, "\n[INSTRUCTIONS]\nYou are John, a senior interviewer at %s. If the candidate mentions %s, dive deeper. Probe for the red flags mentioned. Stay in character. Be conversational but firm.", name, stack)
	if persona != "" {
		b.WriteString("\n")
		b.WriteString(persona)
	}
	return b.String()
}

// PhaseInstruction returns the goal for a turn: behavioral through turn 3,
// coding through turn 10, system design before turn 14, then closing.
func PhaseInstruction(turn int, c types.CompanyContext) string {
	switch {
	case turn <= 3:
		target := "their experience with a challenging project"
		if len(c.BehavioralQuestions) > 0 {
			target = c.BehavioralQuestions[0]
		}
		return fmt.Sprintf("PHASE: BEHAVIORAL. Goals: 1. Ensure introductions are complete. 2. Discuss %s. Only move to the next goal when the previous is satisfied.", target)
	case turn <= 10:
		target := "their favorite programming language and why"
		if len(c.CodingProblems) > 0 {
			target = "a coding question about " + c.CodingProblems[0]
		}
		return fmt.Sprintf("PHASE: CODING CHALLENGE. Goal: Evaluate their skills in %s. Guide them through the problem step-by-step. Do not rush.", target)
	case turn < 14:
		target := "how they would design a scalable system"
		if len(c.SystemDesignQuestions) > 0 {
			target = c.SystemDesignQuestions[0]
		}
		return fmt.Sprintf("PHASE: SYSTEM DESIGN. Goal: Discuss %s. Focus on high-level architecture.", target)
	default:
		return "PHASE: CLOSING. Wrap up the interview politely."
	}
}

const responseGuidelines = `[RESPONSE GUIDELINES]
1. PRIORITIZE the user's immediate input (questions, checks, or concerns).
2. CHECK HISTORY: Did the user answer the LAST question asked by the Interviewer?
   - IF NO: Acknowledge their input, then GENTLY steer them back to the unanswered question.
   - IF YES (or if it was just small talk): Proceed to [CURRENT PHASE & GOAL].
3. Keep it conversational and professional.`

// TurnMessage is the user message sent to the model for one utterance.
func TurnMessage(history string, turn int, utterance, phase string) string {
	return fmt.Sprintf("[CONVERSATION HISTORY]\n...\n%s\n\n[Turn %d]\nUser said: %s\n\n[CURRENT PHASE & GOAL]\n%s\n\n%s",
		history, turn, utterance, phase, responseGuidelines)
}

// recent returns at most n trailing bytes of s, cut on a rune boundary.
func recent(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8RuneStart(s[i]) {
		i++
	}
	return s[i:]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
