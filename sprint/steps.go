package sprint

// Step keys of the default questionnaire.
const (
	StepStage    = "stage"
	StepProblem  = "problem"
	StepTraction = "traction"
	StepIP       = "ip"
	StepTeam     = "team"
	StepFunding  = "funding"
	StepPitch    = "pitch"
	StepReview   = "review"
)

func opts(pairs ...string) []Option {
	out := make([]Option, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, Option{Value: pairs[i], Label: pairs[i+1]})
	}
	return out
}

var yesNo = opts("yes", "Yes", "no", "No")

// DefaultSteps is the onboarding questionnaire. Idea-stage founders skip
// traction; incorporated companies skip the IP step.
func DefaultSteps() []Step {
	return []Step{
		{
			Key:   StepStage,
			Title: "Where are you today?",
			Questions: []Question{
				{Key: "stage", Prompt: "How far along is your venture?", Kind: KindSingle, Required: true,
					Options: opts("idea", "Research idea", "prototype", "Working prototype", "company", "Incorporated company")},
				{Key: "role", Prompt: "What is your current role?", Kind: KindSingle, Required: true,
					Options: opts("pi", "Principal investigator", "postdoc", "Postdoc", "phd", "PhD student", "industry", "Industry scientist")},
			},
			Next: func(Answers) string { return StepProblem },
		},
		{
			Key:   StepProblem,
			Title: "Problem and customer",
			Questions: []Question{
				{Key: "problem", Prompt: "What problem does your science solve?", Kind: KindText, Required: true},
				{Key: "customer", Prompt: "Who pays for the solution?", Kind: KindSingle, Required: true,
					Options: opts("academia", "Research labs", "industry", "Industry", "healthcare", "Healthcare", "government", "Government", "consumer", "Consumers")},
			},
			Next: func(a Answers) string {
				if a.First("stage") == "idea" {
					return StepIP
				}
				return StepTraction
			},
		},
		{
			Key:   StepTraction,
			Title: "Traction",
			Questions: []Question{
				{Key: "traction", Prompt: "What validation do you have?", Kind: KindMulti, Required: true,
					Options: opts("pilots", "Pilot users", "lois", "Letters of intent", "revenue", "Revenue", "grants", "Non-dilutive grants", "none", "None yet")},
				{Key: "revenue", Prompt: "Annual revenue", Kind: KindSingle,
					Options: opts("none", "None", "under_100k", "Under $100k", "over_100k", "Over $100k")},
			},
			Next: func(a Answers) string {
				if a.First("stage") == "company" {
					return StepTeam
				}
				return StepIP
			},
		},
		{
			Key:   StepIP,
			Title: "Intellectual property",
			Questions: []Question{
				{Key: "ip_status", Prompt: "Where is your IP?", Kind: KindSingle, Required: true,
					Options: opts("none", "Nothing disclosed", "disclosed", "Invention disclosed", "filed", "Patent filed", "licensed", "Licensed to the venture")},
				{Key: "tto_engaged", Prompt: "Have you met your tech transfer office?", Kind: KindSingle, Options: yesNo},
			},
			Next: func(Answers) string { return StepTeam },
		},
		{
			Key:   StepTeam,
			Title: "Team",
			Questions: []Question{
				{Key: "cofounders", Prompt: "Who is on the founding team?", Kind: KindSingle, Required: true,
					Options: opts("solo", "Just me", "technical", "Technical co-founders only", "business", "A business co-founder", "full", "Technical and business")},
				{Key: "commitment", Prompt: "How much time can you commit?", Kind: KindSingle, Required: true,
					Options: opts("part_time", "Part time", "full_time", "Full time")},
			},
			Next: func(Answers) string { return StepFunding },
		},
		{
			Key:   StepFunding,
			Title: "Funding",
			Questions: []Question{
				{Key: "funding", Prompt: "How is the work funded today?", Kind: KindMulti, Required: true,
					Options: opts("bootstrapped", "Bootstrapped", "grants", "Grants", "angels", "Angels", "vc", "Venture capital", "none", "Not funded")},
				{Key: "raise", Prompt: "Are you raising?", Kind: KindSingle, Required: true,
					Options: opts("none", "Not raising", "pre_seed", "Pre-seed", "seed", "Seed", "series_a", "Series A")},
			},
			Next: func(a Answers) string {
				if r := a.First("raise"); r != "" && r != "none" {
					return StepPitch
				}
				return StepReview
			},
		},
		{
			Key:   StepPitch,
			Title: "Pitch",
			Questions: []Question{
				{Key: "deck", Prompt: "Do you have a pitch deck?", Kind: KindSingle, Required: true,
					Options: opts("none", "No", "draft", "Draft", "ready", "Investor ready")},
			},
			Next: func(Answers) string { return StepReview },
		},
		{
			Key:   StepReview,
			Title: "Sprint goals",
			Questions: []Question{
				{Key: "goals", Prompt: "What do you want from the next 90 days?", Kind: KindMulti, Required: true,
					Options: opts("customer_discovery", "Customer discovery", "spinout", "Spin out of the university", "first_hire", "First hire", "fundraise", "Close a round", "grant", "Win a grant")},
				{Key: "notes", Prompt: "Anything else we should know?", Kind: KindText},
			},
		},
	}
}

// Default returns the built-in questionnaire.
func Default() *Questionnaire {
	q, err := NewQuestionnaire(DefaultSteps())
	if err != nil {
		panic(err)
	}
	return q
}
