package domain

// Measurements groups the raw per-domain test captures of one submission.
// Raw values are immutable after capture; optional fields stay nil when a
// sub-test was skipped.
type Measurements struct {
	Speech   *SpeechSample   `json:"speech,omitempty"`
	Memory   *MemoryResults  `json:"memory,omitempty"`
	Reaction *ReactionSample `json:"reaction,omitempty"`
	Stroop   *StroopResults  `json:"stroop,omitempty"`
	Tap      *TapTest        `json:"tap,omitempty"`

	// Optional supplementary tests blended into the memory score.
	DigitSpan *DigitSpan     `json:"digitSpan,omitempty"`
	Fluency   *VerbalFluency `json:"fluency,omitempty"`
}

// SpeechSample holds speech biomarkers derived from a recorded passage.
// Transcription happens upstream; Kestrel consumes numeric measurements only.
type SpeechSample struct {
	WordsPerMinute      *float64 `json:"wordsPerMinute,omitempty"`
	PauseRatio          *float64 `json:"pauseRatio,omitempty"`          // 0-1, share of recording spent pausing
	WordFindingDelay    *float64 `json:"wordFindingDelay,omitempty"`    // seconds, mean hesitation before content words
	ArticulationClarity *float64 `json:"articulationClarity,omitempty"` // 0-100
	LexicalDiversity    *float64 `json:"lexicalDiversity,omitempty"`    // 0-1 type/token ratio
}

// MemoryResults holds accuracies from the in-app memory games.
type MemoryResults struct {
	WordRecallAccuracy    *float64 `json:"wordRecallAccuracy,omitempty"`    // percent
	PatternAccuracy       *float64 `json:"patternAccuracy,omitempty"`       // percent
	DelayedRecallAccuracy *float64 `json:"delayedRecallAccuracy,omitempty"` // percent
	RecognitionAccuracy   *float64 `json:"recognitionAccuracy,omitempty"`   // percent
	IntrusionErrors       *float64 `json:"intrusionErrors,omitempty"`       // count
}

// ReactionSample is the raw reaction-time series in milliseconds.
// Derived statistics (mean, std, drift, min, lapse rate) are computed by
// the feature extractor; a non-empty list is enough for the domain to count
// as present.
type ReactionSample struct {
	Times []float64 `json:"times"`
}

// StroopResults holds the executive/inhibition test outcome.
type StroopResults struct {
	ErrorRate        *float64 `json:"errorRate,omitempty"`          // 0-1
	InterferenceCost *float64 `json:"interferenceCostMs,omitempty"` // incongruent - congruent mean RT, ms
}

// TapTest holds the motor tapping capture. Either the raw interval series
// or a precomputed interval standard deviation is accepted.
type TapTest struct {
	IntervalsMs []float64 `json:"intervalsMs,omitempty"`
	IntervalStd *float64  `json:"intervalStdMs,omitempty"`
}

// DigitSpan is an optional forward digit-span result.
type DigitSpan struct {
	MaxForwardSpan int `json:"maxForwardSpan"`
}

// VerbalFluency is an optional one-minute category fluency result.
type VerbalFluency struct {
	WordCount int `json:"wordCount"`
}

// SubjectProfile carries the demographic and situational context supplied
// at submission time. Every field may be absent.
type SubjectProfile struct {
	Age            *int     `json:"age,omitempty"`
	EducationLevel *int     `json:"educationLevel,omitempty"` // ordinal 1-5
	SleepHours     *float64 `json:"sleepHours,omitempty"`

	Conditions ConditionFlags `json:"conditions"`
	Fatigue    FatigueFlags   `json:"fatigue"`
}

// ConditionFlags are the seven boolean medical-condition flags consumed by
// the clinical adjustment layer.
type ConditionFlags struct {
	Hypertension    bool `json:"hypertension"`
	Diabetes        bool `json:"diabetes"`
	HighCholesterol bool `json:"highCholesterol"`
	Depression      bool `json:"depression"`
	HeadInjury      bool `json:"headInjury"`
	FamilyHistory   bool `json:"familyHistory"`
	SleepApnea      bool `json:"sleepApnea"`
}

// Set returns the flags as a name -> value map keyed the same way as the
// NormSet gamma table.
func (c ConditionFlags) Set() map[string]bool {
	return map[string]bool{
		ConditionHypertension:    c.Hypertension,
		ConditionDiabetes:        c.Diabetes,
		ConditionHighCholesterol: c.HighCholesterol,
		ConditionDepression:      c.Depression,
		ConditionHeadInjury:      c.HeadInjury,
		ConditionFamilyHistory:   c.FamilyHistory,
		ConditionSleepApnea:      c.SleepApnea,
	}
}

// FatigueFlags are the four boolean self-reported state flags consumed by
// the fatigue confidence score.
type FatigueFlags struct {
	Tired         bool `json:"tired"`
	SleepDeprived bool `json:"sleepDeprived"`
	Sick          bool `json:"sick"`
	Anxious       bool `json:"anxious"`
}

// Set returns the flags as a name -> value map keyed the same way as the
// NormSet penalty table.
func (f FatigueFlags) Set() map[string]bool {
	return map[string]bool{
		FatigueTired:         f.Tired,
		FatigueSleepDeprived: f.SleepDeprived,
		FatigueSick:          f.Sick,
		FatigueAnxious:       f.Anxious,
	}
}

// Submission is a complete screening submission: raw measurements plus
// subject context. One submission produces exactly one Assessment.
type Submission struct {
	SubjectID    string         `json:"subjectId"`
	Measurements Measurements   `json:"measurements"`
	Profile      SubjectProfile `json:"profile"`
}
