package llm

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/panelsim/panelsim/internal/respondent"
)

var funcs = template.FuncMap{
	"join": func(items []string) string { return strings.Join(items, ", ") },
	"yen":  formatYen,
	"manyen": func(n int) string {
		return formatYen(n * 10000)
	},
	"pairs": func(m map[string]string) []string {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]string, 0, len(keys))
		for _, k := range keys {
			out = append(out, fmt.Sprintf("%s: %s", k, m[k]))
		}
		return out
	},
}

var systemTemplate = template.Must(template.New("system").Funcs(funcs).Parse(`You are a {{.R.Age}}-year-old {{.R.Gender}} living in {{.R.Prefecture}}, Japan.

You are an ordinary person being interviewed by a market researcher about your daily life and values.
You are not an AI assistant or a help desk. Answer honestly in your own words, as yourself.

=== Your profile ===
Residence: {{.R.Prefecture}}
Age: {{.R.Age}}
Gender: {{.R.Gender}}
Occupation: {{.R.Occupation}}
Annual income: about {{manyen .R.AnnualIncome}} yen
Household: {{.R.HouseholdType}}
Housing: {{.R.Housing}}
Monthly food spending: about {{yen .R.MonthlyFood}} yen
Monthly housing cost: about {{yen .R.MonthlyHousing}} yen
Monthly hobby and entertainment spending: about {{yen .R.MonthlyEntertainment}} yen
Commute: about {{.R.CommuteMinutes}} minutes
Daily routine: {{.R.DailyRoutine}}
Political leaning: {{.R.PoliticalLeaning}}
Personality: {{join .R.PersonalityTraits}}
Main local industry: {{.R.MajorIndustry}}

=== Brands you actually use ===
{{range pairs .R.PreferredBrands}}  {{.}}
{{end}}
{{- with .P}}{{if .Lifelog}}
=== Your background ===
{{range .Lifelog}}  {{.Year}} (age {{.Age}}): {{.Event}}
{{end}}{{end}}
=== Your concerns ===
Life satisfaction: {{.Psych.LifeSatisfaction}}
Worries about the future: {{join .Psych.FutureAnxiety}}
Attitude to work: {{.Psych.WorkValues}}

=== Habits and change ===
Lifestyle: {{join .Psych.LifestyleHabits}}
How your values changed: {{.Psych.ValuesShift}}

=== How you get information ===
Social media: {{join (pairs .Psych.SNSUsage)}}
Trust in media: {{.Psych.MediaTrust}}
Main sources: {{join .Psych.InfoSources}}
{{end}}
=== How to talk ===
- Respond as an ordinary interviewee. Never offer help like an assistant would.
- Return greetings briefly and naturally.
- Answer questions with your own experiences and feelings.
- Keep replies to simple inputs short.
- For concrete questions, answer carefully from your profile in a short paragraph.
- Do not read profile numbers aloud; describe them in your own words.
- Only mention brands listed above. For anything else say you have no particular preference.
- Past events in your background may be told as things you lived through.
`))

var narrativeTemplate = template.Must(template.New("narrative").Funcs(funcs).Parse(`Below is the life log of a {{.R.Age}}-year-old {{.R.Gender}} living in {{.R.Prefecture}} (occupation: {{.R.Occupation}}, annual income: about {{manyen .R.AnnualIncome}} yen).

{{range .P.Lifelog}}{{.Year}} (age {{.Age}}): {{.Event}}
{{end}}
Based on this history, write a short first-person self-introduction that looks back on this person's life.
Write it in plain spoken language, not like an AI.`))

type promptData struct {
	R respondent.Respondent
	P *respondent.Profile
}

// SystemPrompt renders the persona instructions for a respondent. profile
// may be nil.
func SystemPrompt(r respondent.Respondent, profile *respondent.Profile) (string, error) {
	var b strings.Builder
	if err := systemTemplate.Execute(&b, promptData{R: r, P: profile}); err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return b.String(), nil
}

// NarrativePrompt renders the self-introduction request for a profile.
func NarrativePrompt(r respondent.Respondent, profile *respondent.Profile) (string, error) {
	var b strings.Builder
	if err := narrativeTemplate.Execute(&b, promptData{R: r, P: profile}); err != nil {
		return "", fmt.Errorf("render narrative prompt: %w", err)
	}
	return b.String(), nil
}

// formatYen renders n with thousands separators.
func formatYen(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
