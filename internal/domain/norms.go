package domain

// AgeBracket is one of the four normative age bands.
type AgeBracket string

const (
	Bracket20to39 AgeBracket = "20-39"
	Bracket40to59 AgeBracket = "40-59"
	Bracket60to75 AgeBracket = "60-75"
	Bracket75plus AgeBracket = "75+"
)

// BracketForAge picks the bracket for an age. Ages outside the tabulated
// range clamp to the nearest bracket; clamped reports when that happened so
// the caller can attach a calibration warning instead of failing.
func BracketForAge(age int) (bracket AgeBracket, clamped bool) {
	switch {
	case age < 20:
		return Bracket20to39, true
	case age < 40:
		return Bracket20to39, false
	case age < 60:
		return Bracket40to59, false
	case age <= 75:
		return Bracket60to75, false
	default:
		return Bracket75plus, false
	}
}

// Norm is the population (mean, std-dev) for one metric in one bracket.
// LowerBetter flips the z-score sign for metrics where smaller raw values
// mean better performance (reaction times, error counts).
type Norm struct {
	Mean        float64 `json:"mean"`
	StdDev      float64 `json:"stdDev"`
	LowerBetter bool    `json:"lowerBetter"`
}

// LogisticModel is one closed-form coefficient set. The logit is
// Intercept + Scale * sum(beta_d * riskRatio_d) over the domains with a
// non-zero beta; betas over absent optional domains are renormalized.
type LogisticModel struct {
	Intercept float64 `json:"intercept"`
	Scale     float64 `json:"scale"`

	Speech    float64 `json:"speech"`
	Memory    float64 `json:"memory"`
	Reaction  float64 `json:"reaction"`
	Executive float64 `json:"executive"`
	Motor     float64 `json:"motor"`
}

// Beta returns the coefficient for a domain.
func (m LogisticModel) Beta(d TestDomain) float64 {
	switch d {
	case DomainSpeech:
		return m.Speech
	case DomainMemory:
		return m.Memory
	case DomainReaction:
		return m.Reaction
	case DomainExecutive:
		return m.Executive
	case DomainMotor:
		return m.Motor
	default:
		return 0
	}
}

// Logistic model names.
const (
	ModelConcern    = "concern"
	ModelAlzheimers = "alzheimers"
	ModelDementia   = "dementia"
	ModelParkinsons = "parkinsons"
)

// Condition flag names (gamma table keys).
const (
	ConditionHypertension    = "hypertension"
	ConditionDiabetes        = "diabetes"
	ConditionHighCholesterol = "high_cholesterol"
	ConditionDepression      = "depression"
	ConditionHeadInjury      = "head_injury"
	ConditionFamilyHistory   = "family_history"
	ConditionSleepApnea      = "sleep_apnea"
)

// Fatigue flag names (penalty table keys).
const (
	FatigueTired         = "tired"
	FatigueSleepDeprived = "sleep_deprived"
	FatigueSick          = "sick"
	FatigueAnxious       = "anxious"
)

// AgeLeniencyBand maps an age range [From, To) to a health multiplier.
type AgeLeniencyBand struct {
	From   int     `json:"from"`
	To     int     `json:"to"` // exclusive; 0 means open-ended
	Factor float64 `json:"factor"`
}

// CompositeWeights are the five domain weights of the composite scorer.
// They must sum to 1.00.
type CompositeWeights struct {
	Speech    float64 `json:"speech"`
	Memory    float64 `json:"memory"`
	Reaction  float64 `json:"reaction"`
	Executive float64 `json:"executive"`
	Motor     float64 `json:"motor"`
}

// Weight returns the composite weight for a domain.
func (w CompositeWeights) Weight(d TestDomain) float64 {
	switch d {
	case DomainSpeech:
		return w.Speech
	case DomainMemory:
		return w.Memory
	case DomainReaction:
		return w.Reaction
	case DomainExecutive:
		return w.Executive
	case DomainMotor:
		return w.Motor
	default:
		return 0
	}
}

// NormSet is the complete versioned calibration table set. Loaded once at
// process start and treated as read-only for its lifetime; recalibration
// replaces the whole set, never mutates it in place.
type NormSet struct {
	Version string `json:"version"`

	Metrics map[MetricType]map[AgeBracket]Norm `json:"metrics"`

	// EducationBeta is the cognitive-reserve correction, applied to the
	// memory domain only: adjusted = clamp(memory + beta*100, 0, 100).
	// Keyed by ordinal education level 1-5.
	EducationBeta map[int]float64 `json:"educationBeta"`

	// ConditionGamma are the seven medical-condition risk multipliers.
	ConditionGamma map[string]float64 `json:"conditionGamma"`

	// FatiguePenalty are the four self-reported state confidence penalties.
	FatiguePenalty map[string]float64 `json:"fatiguePenalty"`

	// AgeLeniency bands must be ordered and monotonically non-decreasing.
	AgeLeniency []AgeLeniencyBand `json:"ageLeniency"`

	Weights CompositeWeights `json:"weights"`

	Logistic map[string]LogisticModel `json:"logistic"`
}

// AgeFactor returns the leniency multiplier for an age. Ages below the
// first band clamp to its factor; clamped reports out-of-table ages.
func (n *NormSet) AgeFactor(age int) (factor float64, clamped bool) {
	if len(n.AgeLeniency) == 0 {
		return 1.0, false
	}
	first := n.AgeLeniency[0]
	if age < first.From {
		return first.Factor, true
	}
	for _, b := range n.AgeLeniency {
		if age >= b.From && (b.To == 0 || age < b.To) {
			return b.Factor, false
		}
	}
	return n.AgeLeniency[len(n.AgeLeniency)-1].Factor, false
}

// DefaultNormSet returns the built-in calibration tables. The numbers are
// hand-tuned screening heuristics, not clinically validated norms.
func DefaultNormSet() *NormSet {
	return &NormSet{
		Version: "2026.1",
		Metrics: map[MetricType]map[AgeBracket]Norm{
			MetricWordsPerMinute: {
				Bracket20to39: {Mean: 150, StdDev: 25},
				Bracket40to59: {Mean: 140, StdDev: 25},
				Bracket60to75: {Mean: 125, StdDev: 25},
				Bracket75plus: {Mean: 110, StdDev: 25},
			},
			MetricPauseRatio: {
				Bracket20to39: {Mean: 0.18, StdDev: 0.06, LowerBetter: true},
				Bracket40to59: {Mean: 0.20, StdDev: 0.06, LowerBetter: true},
				Bracket60to75: {Mean: 0.24, StdDev: 0.07, LowerBetter: true},
				Bracket75plus: {Mean: 0.28, StdDev: 0.08, LowerBetter: true},
			},
			MetricWordFindingDelay: {
				Bracket20to39: {Mean: 0.8, StdDev: 0.40, LowerBetter: true},
				Bracket40to59: {Mean: 1.0, StdDev: 0.45, LowerBetter: true},
				Bracket60to75: {Mean: 1.4, StdDev: 0.60, LowerBetter: true},
				Bracket75plus: {Mean: 1.9, StdDev: 0.80, LowerBetter: true},
			},
			MetricArticulationClarity: {
				Bracket20to39: {Mean: 92, StdDev: 5},
				Bracket40to59: {Mean: 90, StdDev: 6},
				Bracket60to75: {Mean: 86, StdDev: 7},
				Bracket75plus: {Mean: 82, StdDev: 8},
			},
			MetricLexicalDiversity: {
				Bracket20to39: {Mean: 0.52, StdDev: 0.08},
				Bracket40to59: {Mean: 0.50, StdDev: 0.08},
				Bracket60to75: {Mean: 0.46, StdDev: 0.09},
				Bracket75plus: {Mean: 0.42, StdDev: 0.09},
			},
			MetricWordRecallAccuracy: {
				Bracket20to39: {Mean: 82, StdDev: 10},
				Bracket40to59: {Mean: 78, StdDev: 10},
				Bracket60to75: {Mean: 70, StdDev: 12},
				Bracket75plus: {Mean: 62, StdDev: 13},
			},
			MetricPatternAccuracy: {
				Bracket20to39: {Mean: 80, StdDev: 10},
				Bracket40to59: {Mean: 76, StdDev: 11},
				Bracket60to75: {Mean: 68, StdDev: 12},
				Bracket75plus: {Mean: 60, StdDev: 13},
			},
			MetricDelayedRecallAccuracy: {
				Bracket20to39: {Mean: 75, StdDev: 12},
				Bracket40to59: {Mean: 70, StdDev: 12},
				Bracket60to75: {Mean: 61, StdDev: 13},
				Bracket75plus: {Mean: 52, StdDev: 14},
			},
			MetricRecognitionAccuracy: {
				Bracket20to39: {Mean: 90, StdDev: 7},
				Bracket40to59: {Mean: 88, StdDev: 8},
				Bracket60to75: {Mean: 83, StdDev: 9},
				Bracket75plus: {Mean: 78, StdDev: 10},
			},
			MetricIntrusionErrors: {
				Bracket20to39: {Mean: 1.2, StdDev: 1.1, LowerBetter: true},
				Bracket40to59: {Mean: 1.5, StdDev: 1.2, LowerBetter: true},
				Bracket60to75: {Mean: 2.2, StdDev: 1.5, LowerBetter: true},
				Bracket75plus: {Mean: 3.0, StdDev: 1.8, LowerBetter: true},
			},
			MetricMeanRT: {
				Bracket20to39: {Mean: 310, StdDev: 45, LowerBetter: true},
				Bracket40to59: {Mean: 340, StdDev: 50, LowerBetter: true},
				Bracket60to75: {Mean: 395, StdDev: 60, LowerBetter: true},
				Bracket75plus: {Mean: 450, StdDev: 75, LowerBetter: true},
			},
			MetricStdRT: {
				Bracket20to39: {Mean: 55, StdDev: 18, LowerBetter: true},
				Bracket40to59: {Mean: 62, StdDev: 20, LowerBetter: true},
				Bracket60to75: {Mean: 78, StdDev: 24, LowerBetter: true},
				Bracket75plus: {Mean: 95, StdDev: 30, LowerBetter: true},
			},
			MetricRTDrift: {
				Bracket20to39: {Mean: 8, StdDev: 14, LowerBetter: true},
				Bracket40to59: {Mean: 12, StdDev: 16, LowerBetter: true},
				Bracket60to75: {Mean: 20, StdDev: 20, LowerBetter: true},
				Bracket75plus: {Mean: 30, StdDev: 25, LowerBetter: true},
			},
			MetricMinRT: {
				Bracket20to39: {Mean: 215, StdDev: 25, LowerBetter: true},
				Bracket40to59: {Mean: 230, StdDev: 28, LowerBetter: true},
				Bracket60to75: {Mean: 255, StdDev: 32, LowerBetter: true},
				Bracket75plus: {Mean: 280, StdDev: 38, LowerBetter: true},
			},
			MetricLapseRate: {
				Bracket20to39: {Mean: 0.04, StdDev: 0.04, LowerBetter: true},
				Bracket40to59: {Mean: 0.06, StdDev: 0.05, LowerBetter: true},
				Bracket60to75: {Mean: 0.10, StdDev: 0.06, LowerBetter: true},
				Bracket75plus: {Mean: 0.15, StdDev: 0.08, LowerBetter: true},
			},
			MetricStroopErrorRate: {
				Bracket20to39: {Mean: 0.06, StdDev: 0.05, LowerBetter: true},
				Bracket40to59: {Mean: 0.08, StdDev: 0.05, LowerBetter: true},
				Bracket60to75: {Mean: 0.12, StdDev: 0.07, LowerBetter: true},
				Bracket75plus: {Mean: 0.17, StdDev: 0.09, LowerBetter: true},
			},
			MetricStroopInterference: {
				Bracket20to39: {Mean: 95, StdDev: 40, LowerBetter: true},
				Bracket40to59: {Mean: 110, StdDev: 45, LowerBetter: true},
				Bracket60to75: {Mean: 140, StdDev: 55, LowerBetter: true},
				Bracket75plus: {Mean: 175, StdDev: 65, LowerBetter: true},
			},
			MetricTapIntervalStd: {
				Bracket20to39: {Mean: 22, StdDev: 8, LowerBetter: true},
				Bracket40to59: {Mean: 25, StdDev: 9, LowerBetter: true},
				Bracket60to75: {Mean: 32, StdDev: 11, LowerBetter: true},
				Bracket75plus: {Mean: 40, StdDev: 13, LowerBetter: true},
			},
		},
		EducationBeta: map[int]float64{
			1: 0.05,
			2: 0.03,
			3: 0.00,
			4: -0.01,
			5: -0.02,
		},
		ConditionGamma: map[string]float64{
			ConditionHypertension:    0.04,
			ConditionDiabetes:        0.05,
			ConditionHighCholesterol: 0.03,
			ConditionDepression:      0.06,
			ConditionHeadInjury:      0.08,
			ConditionFamilyHistory:   0.10,
			ConditionSleepApnea:      0.07,
		},
		FatiguePenalty: map[string]float64{
			FatigueTired:         0.10,
			FatigueSleepDeprived: 0.12,
			FatigueSick:          0.08,
			FatigueAnxious:       0.06,
		},
		AgeLeniency: []AgeLeniencyBand{
			{From: 20, To: 40, Factor: 1.00},
			{From: 40, To: 55, Factor: 1.05},
			{From: 55, To: 65, Factor: 1.12},
			{From: 65, To: 85, Factor: 1.20},
			{From: 85, Factor: 1.30},
		},
		Weights: CompositeWeights{
			Speech:    0.25,
			Memory:    0.30,
			Reaction:  0.15,
			Executive: 0.20,
			Motor:     0.10,
		},
		Logistic: map[string]LogisticModel{
			ModelConcern: {
				Intercept: -1.5, Scale: 4,
				Speech: 0.40, Memory: 0.40, Reaction: 0.20,
			},
			ModelAlzheimers: {
				Intercept: -1.8, Scale: 4,
				Memory: 0.50, Speech: 0.30, Reaction: 0.20,
			},
			ModelDementia: {
				Intercept: -1.7, Scale: 4,
				Reaction: 0.45, Memory: 0.30, Speech: 0.25,
			},
			ModelParkinsons: {
				Intercept: -2.0, Scale: 4,
				Motor: 0.45, Reaction: 0.35, Speech: 0.20,
			},
		},
	}
}
