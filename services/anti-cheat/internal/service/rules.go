// services/anti-cheat/internal/service/rules.go
package service

// Trust point costs, debited when a detection or violation is first recorded.
const (
	CostVoteFraud          = 40
	CostMultiAccountActor  = 50
	CostMultiAccountOther  = 20
	CostSpamBattle         = 30
	CostAIAbuse            = 50
	CostSuspiciousActivity = 10
	CostNSFW               = 70
	CostViolence           = 60
	CostImageHate          = 80
	CostTextHate           = 50
	CostHarassment         = 40
	CostSpam               = 30
	CostHarmfulPrompt      = 50
)

// DetectionThresholds tunes the fraud evaluators. Loaded from the config
// file; zero values fall back to the defaults.
type DetectionThresholds struct {
	MaxBattlesPerDay     int                 `yaml:"max_battles_per_day"`
	MaxAccountsPerIP     int                 `yaml:"max_accounts_per_ip"`
	ActionBurstPerMinute int                 `yaml:"action_burst_per_minute"`
	ActionsPerHour       int                 `yaml:"actions_per_hour"`
	HarmfulKeywords      map[string][]string `yaml:"harmful_keywords"`
}

func DefaultDetectionThresholds() DetectionThresholds {
	return DetectionThresholds{
		MaxBattlesPerDay:     5,
		MaxAccountsPerIP:     5,
		ActionBurstPerMinute: 10,
		ActionsPerHour:       120,
		HarmfulKeywords:      defaultHarmfulKeywords(),
	}
}

// WithDefaults fills unset fields.
func (t DetectionThresholds) WithDefaults() DetectionThresholds {
	d := DefaultDetectionThresholds()
	if t.MaxBattlesPerDay <= 0 {
		t.MaxBattlesPerDay = d.MaxBattlesPerDay
	}
	if t.MaxAccountsPerIP <= 0 {
		t.MaxAccountsPerIP = d.MaxAccountsPerIP
	}
	if t.ActionBurstPerMinute <= 0 {
		t.ActionBurstPerMinute = d.ActionBurstPerMinute
	}
	if t.ActionsPerHour <= 0 {
		t.ActionsPerHour = d.ActionsPerHour
	}
	if len(t.HarmfulKeywords) == 0 {
		t.HarmfulKeywords = d.HarmfulKeywords
	}
	return t
}

func defaultHarmfulKeywords() map[string][]string {
	return map[string][]string{
		"explicit": {"nude", "naked", "nsfw", "porn", "explicit", "sexual", "undress"},
		"violent":  {"gore", "blood", "kill", "murder", "torture", "dismember", "decapitate"},
		"hateful":  {"nazi", "swastika", "racist", "ethnic cleansing", "white power"},
	}
}

// ModerationRules configures the classifier chains.
type ModerationRules struct {
	NSFWLabels       []string `yaml:"nsfw_labels"`
	ViolenceLabels   []string `yaml:"violence_labels"`
	HateLabels       []string `yaml:"hate_labels"`
	LabelThreshold   float64  `yaml:"label_threshold"`
	HateTerms        []string `yaml:"hate_terms"`
	HarassmentTerms  []string `yaml:"harassment_terms"`
	SpamThreshold    float64  `yaml:"spam_threshold"`
	RequireFaceImage bool     `yaml:"require_face_image"`
}

func DefaultModerationRules() ModerationRules {
	return ModerationRules{
		NSFWLabels:       []string{"nudity", "explicit", "sexual", "underwear", "suggestive"},
		ViolenceLabels:   []string{"weapon", "blood", "gore", "violence", "fight"},
		HateLabels:       []string{"hate_symbol", "extremist", "offensive_gesture"},
		LabelThreshold:   0.5,
		HateTerms:        []string{"nazi", "subhuman", "go back to your country", "white power", "inferior race"},
		HarassmentTerms:  []string{"kill yourself", "kys", "nobody likes you", "you are worthless", "i will find you", "loser"},
		SpamThreshold:    0.7,
		RequireFaceImage: true,
	}
}

func (r ModerationRules) WithDefaults() ModerationRules {
	d := DefaultModerationRules()
	if len(r.NSFWLabels) == 0 {
		r.NSFWLabels = d.NSFWLabels
	}
	if len(r.ViolenceLabels) == 0 {
		r.ViolenceLabels = d.ViolenceLabels
	}
	if len(r.HateLabels) == 0 {
		r.HateLabels = d.HateLabels
	}
	if r.LabelThreshold <= 0 {
		r.LabelThreshold = d.LabelThreshold
	}
	if len(r.HateTerms) == 0 {
		r.HateTerms = d.HateTerms
	}
	if len(r.HarassmentTerms) == 0 {
		r.HarassmentTerms = d.HarassmentTerms
	}
	if r.SpamThreshold <= 0 {
		r.SpamThreshold = d.SpamThreshold
	}
	return r
}
