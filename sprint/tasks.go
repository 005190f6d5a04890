package sprint

// Task priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// TaskTemplate becomes a task when its condition holds for the answers.
type TaskTemplate struct {
	Key         string               `json:"key"`
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Category    string               `json:"category"`
	Priority    string               `json:"priority"`
	DueInDays   int                  `json:"due_in_days"`
	When        func(a Answers) bool `json:"-"`
}

func DefaultTemplates() []TaskTemplate {
	return []TaskTemplate{
		{
			Key:         "customer_interviews",
			Title:       "Interview 10 potential customers",
			Description: "Book conversations with people who would pay for the outcome, not colleagues who like the science.",
			Category:    "customers",
			Priority:    PriorityHigh,
			DueInDays:   14,
			When: func(a Answers) bool {
				return a.Any("stage", "idea", "prototype") || a.Has("goals", "customer_discovery")
			},
		},
		{
			Key:         "tto_meeting",
			Title:       "Meet your technology transfer office",
			Description: "Learn the disclosure process and licensing terms before you talk to investors.",
			Category:    "ip",
			Priority:    PriorityHigh,
			DueInDays:   7,
			When: func(a Answers) bool {
				return a.First("stage") != "company" && (a.Any("ip_status", "none", "disclosed") || a.First("tto_engaged") == "no")
			},
		},
		{
			Key:         "file_provisional",
			Title:       "File a provisional patent",
			Description: "Work with the TTO or counsel to file before any public disclosure.",
			Category:    "ip",
			Priority:    PriorityMedium,
			DueInDays:   30,
			When:        func(a Answers) bool { return a.First("ip_status") == "disclosed" },
		},
		{
			Key:         "incorporate",
			Title:       "Incorporate the company",
			Description: "Choose an entity, split founder equity and set up vesting.",
			Category:    "company",
			Priority:    PriorityMedium,
			DueInDays:   45,
			When: func(a Answers) bool {
				return a.First("stage") != "company" && a.Has("goals", "spinout")
			},
		},
		{
			Key:         "find_cofounder",
			Title:       "Find a business co-founder",
			Description: "List five operators from your network and ask each for two introductions.",
			Category:    "team",
			Priority:    PriorityHigh,
			DueInDays:   30,
			When:        func(a Answers) bool { return a.Any("cofounders", "solo", "technical") },
		},
		{
			Key:         "sbir_application",
			Title:       "Start an SBIR/STTR application",
			Description: "Pick the agency topic that fits and draft the specific aims page.",
			Category:    "funding",
			Priority:    PriorityMedium,
			DueInDays:   60,
			When:        func(a Answers) bool { return a.Has("funding", "grants") || a.Has("goals", "grant") },
		},
		{
			Key:         "pitch_deck",
			Title:       "Finish your pitch deck",
			Description: "Problem, solution, market, traction, team, ask. Ten slides.",
			Category:    "funding",
			Priority:    PriorityHigh,
			DueInDays:   21,
			When: func(a Answers) bool {
				r := a.First("raise")
				return r != "" && r != "none" && a.First("deck") != "ready"
			},
		},
		{
			Key:         "investor_list",
			Title:       "Build a target investor list",
			Description: "Thirty investors who have backed deep-tech at your stage, with a warm path to each.",
			Category:    "funding",
			Priority:    PriorityMedium,
			DueInDays:   30,
			When: func(a Answers) bool {
				r := a.First("raise")
				return (r != "" && r != "none") || a.Has("goals", "fundraise")
			},
		},
		{
			Key:         "paid_pilot",
			Title:       "Land a paid pilot",
			Description: "Turn your warmest user into a paying pilot with clear success criteria.",
			Category:    "customers",
			Priority:    PriorityMedium,
			DueInDays:   60,
			When: func(a Answers) bool {
				return a.First("stage") != "idea" && !a.Any("traction", "pilots", "revenue")
			},
		},
		{
			Key:         "first_hire",
			Title:       "Plan your first hire",
			Description: "Write the role, the budget and where the candidate will come from.",
			Category:    "team",
			Priority:    PriorityLow,
			DueInDays:   45,
			When:        func(a Answers) bool { return a.Has("goals", "first_hire") },
		},
		{
			Key:         "weekly_review",
			Title:       "Hold a weekly founder review",
			Description: "Thirty minutes each Friday: what moved, what is blocked, what is next.",
			Category:    "habits",
			Priority:    PriorityLow,
			DueInDays:   7,
		},
	}
}

// Tasks returns the templates whose condition matches, in template order.
// A template without a condition always applies.
func Tasks(templates []TaskTemplate, a Answers) []TaskTemplate {
	var out []TaskTemplate
	for _, t := range templates {
		if t.When == nil || t.When(a) {
			out = append(out, t)
		}
	}
	return out
}
