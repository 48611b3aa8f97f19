package respondent

import "fmt"

// Respondent is one simulated survey participant.
type Respondent struct {
	ID                   string            `yaml:"id" json:"id"`
	Prefecture           string            `yaml:"prefecture" json:"prefecture"`
	Region               string            `yaml:"region" json:"region"`
	Age                  int               `yaml:"age" json:"age"`
	Gender               string            `yaml:"gender" json:"gender"`
	Occupation           string            `yaml:"occupation" json:"occupation"`
	EmploymentType       string            `yaml:"employment_type" json:"employment_type"`
	AnnualIncome         int               `yaml:"annual_income" json:"annual_income"`
	HouseholdType        string            `yaml:"household_type" json:"household_type"`
	Housing              string            `yaml:"housing" json:"housing"`
	MonthlyFood          int               `yaml:"monthly_food" json:"monthly_food"`
	MonthlyHousing       int               `yaml:"monthly_housing" json:"monthly_housing"`
	MonthlyEntertainment int               `yaml:"monthly_entertainment" json:"monthly_entertainment"`
	CommuteMinutes       int               `yaml:"commute_minutes" json:"commute_minutes"`
	SleepHours           float64           `yaml:"sleep_hours" json:"sleep_hours"`
	DailyRoutine         string            `yaml:"daily_routine" json:"daily_routine"`
	PoliticalLeaning     string            `yaml:"political_leaning" json:"political_leaning"`
	PersonalityTraits    []string          `yaml:"personality_traits" json:"personality_traits"`
	MajorIndustry        string            `yaml:"major_industry" json:"major_industry"`
	PreferredBrands      map[string]string `yaml:"preferred_brands" json:"preferred_brands"`
	Profile              *Profile          `yaml:"profile,omitempty" json:"profile,omitempty"`
}

// DisplayName is the short label shown next to an answer.
func (r Respondent) DisplayName() string {
	return fmt.Sprintf("%s, %d, %s", r.Prefecture, r.Age, r.Gender)
}

// Profile is the optional enrichment attached to a respondent.
type Profile struct {
	Lifelog []LifeEvent `yaml:"lifelog" json:"lifelog"`
	Psych   Psych       `yaml:"psych" json:"psych"`
}

// LifeEvent is one entry of a respondent's life history.
type LifeEvent struct {
	Year     int    `yaml:"year" json:"year"`
	Age      int    `yaml:"age" json:"age"`
	Event    string `yaml:"event" json:"event"`
	Category string `yaml:"category" json:"category"`
}

// Psych holds attitudes and media habits.
type Psych struct {
	LifeSatisfaction int               `yaml:"life_satisfaction" json:"life_satisfaction"`
	FutureAnxiety    []string          `yaml:"future_anxiety" json:"future_anxiety"`
	WorkValues       string            `yaml:"work_values" json:"work_values"`
	LifestyleHabits  []string          `yaml:"lifestyle_habits" json:"lifestyle_habits"`
	ValuesShift      string            `yaml:"values_shift" json:"values_shift"`
	SNSUsage         map[string]string `yaml:"sns_usage" json:"sns_usage"`
	MediaTrust       string            `yaml:"media_trust" json:"media_trust"`
	InfoSources      []string          `yaml:"info_sources" json:"info_sources"`
}
