package consistency

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects whether the validator only reports drift or also repairs the mirror.
type Mode string

const (
	ModeReport Mode = "REPORT"
	ModeFix    Mode = "FIX"
)

// ParseMode accepts report/fix in any case.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(raw))) {
	case ModeReport:
		return ModeReport, nil
	case ModeFix:
		return ModeFix, nil
	}
	return "", fmt.Errorf("unknown validation mode %q (want report or fix)", raw)
}

type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Finding codes.
const (
	CodeMissingInMirror  = "MISSING_IN_MIRROR"
	CodeMissingInPrimary = "MISSING_IN_PRIMARY"
	CodeMismatch         = "MISMATCH"
	CodeStaleDay         = "STALE_DAY"
)

// Finding is one user whose mirror entry disagrees with the primary store.
type Finding struct {
	Code     string   `json:"code"`
	UserID   string   `json:"userId"`
	DateKey  string   `json:"dateKey"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	// Fields lists the mismatching snapshot fields for MISMATCH findings.
	Fields []string `json:"fields,omitempty"`
}

// Repair is the outcome of one mirror overwrite in FIX mode.
type Repair struct {
	UserID  string `json:"userId"`
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type Summary struct {
	Total  int `json:"total"`
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
	// Repaired counts successful repairs.
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
}

// Report is the structured result of one validator run.
type Report struct {
	Mode       Mode      `json:"mode"`
	DateKey    string    `json:"dateKey"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Summary    Summary   `json:"summary"`
	Findings   []Finding `json:"findings"`
	Repairs    []Repair  `json:"repairs"`
	// Cancelled is set when the run stopped early; findings and repairs up to that point stand.
	Cancelled bool `json:"cancelled"`
}

func (r *Report) add(f Finding) {
	r.Findings = append(r.Findings, f)
	r.Summary.Total++
	switch f.Severity {
	case SeverityHigh:
		r.Summary.High++
	case SeverityMedium:
		r.Summary.Medium++
	case SeverityLow:
		r.Summary.Low++
	}
}

func (r *Report) repaired(rep Repair) {
	r.Repairs = append(r.Repairs, rep)
	if rep.Success {
		r.Summary.Repaired++
	} else {
		r.Summary.Failed++
	}
}

// HighFindings returns the findings that need an operator.
func (r Report) HighFindings() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == SeverityHigh {
			out = append(out, f)
		}
	}
	return out
}
