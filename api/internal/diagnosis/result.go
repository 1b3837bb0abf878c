package diagnosis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"plantdoc-bot/api/internal/util"
)

// Result - ответ модели после валидации. Имена полей JSON - контракт:
// по ним модель отвечает, и в этом же виде результат лежит в кэше и в истории.
type Result struct {
	ConfidenceLevel     int               `json:"confidence_level"`
	PrimaryIssue        PrimaryIssue      `json:"primary_issue"`
	CausalAgent         string            `json:"causal_agent"`
	VisualEvidence      VisualEvidence    `json:"visual_evidence"`
	DiagnosticReasoning string            `json:"diagnostic_reasoning"`
	DiseaseManagement   DiseaseManagement `json:"disease_management"`
	Summary             Summary           `json:"summary"`
}

type PrimaryIssue struct {
	ClassEN     string `json:"class_en"`
	Description string `json:"description"`
}

type VisualEvidence struct {
	SpotsDescription    string `json:"spots_description"`
	LesionShape         string `json:"lesion_shape"`
	Distribution        string `json:"distribution"`
	SeverityObservation string `json:"severity_observation"`
}

type DiseaseManagement struct {
	CulturalManagement        []string `json:"cultural_management"`
	CultivarAndCroppingSystem []string `json:"cultivar_and_cropping_system"`
	MonitoringAndPrevention   []string `json:"monitoring_and_prevention"`
	ChemicalManagement        []string `json:"chemical_management"`
}

type Summary struct {
	FinalClass        string `json:"final_class"`
	Severity          string `json:"severity"`
	OverallConfidence string `json:"overall_confidence"`
}

// LowConfidenceThreshold: ниже этого результат показывается как рекомендация, а не диагноз.
const LowConfidenceThreshold = 50

func (r Result) LowConfidence() bool { return r.ConfidenceLevel < LowConfidenceThreshold }

// Clone - глубокая копия, чтобы кэш не делил срезы с вызывающим кодом.
func (r Result) Clone() Result {
	out := r
	out.DiseaseManagement = DiseaseManagement{
		CulturalManagement:        cloneList(r.DiseaseManagement.CulturalManagement),
		CultivarAndCroppingSystem: cloneList(r.DiseaseManagement.CultivarAndCroppingSystem),
		MonitoringAndPrevention:   cloneList(r.DiseaseManagement.MonitoringAndPrevention),
		ChemicalManagement:        cloneList(r.DiseaseManagement.ChemicalManagement),
	}
	return out
}

func cloneList(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// normalize: списки никогда не nil, строки без лишних пробелов.
func (r *Result) normalize() {
	dm := &r.DiseaseManagement
	dm.CulturalManagement = cleanList(dm.CulturalManagement)
	dm.CultivarAndCroppingSystem = cleanList(dm.CultivarAndCroppingSystem)
	dm.MonitoringAndPrevention = cleanList(dm.MonitoringAndPrevention)
	dm.ChemicalManagement = cleanList(dm.ChemicalManagement)

	r.PrimaryIssue.ClassEN = strings.TrimSpace(r.PrimaryIssue.ClassEN)
	r.Summary.FinalClass = strings.TrimSpace(r.Summary.FinalClass)
	if r.Summary.OverallConfidence == "" {
		r.Summary.OverallConfidence = fmt.Sprintf("%d%%", r.ConfidenceLevel)
	}
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var (
	// ErrDecode - ответ не разбирается как JSON. Имеет смысл повторить на той же модели.
	ErrDecode = errors.New("response is not valid JSON")
	// ErrSchema - JSON есть, но не той формы. Эта модель так и будет отвечать, идём к следующей.
	ErrSchema = errors.New("response does not match result schema")
)

// wire - промежуточная форма: указатели позволяют отличить "нет поля" от нулевого значения.
type wire struct {
	ConfidenceLevel     *int              `json:"confidence_level"`
	PrimaryIssue        *PrimaryIssue     `json:"primary_issue"`
	CausalAgent         *string           `json:"causal_agent"`
	VisualEvidence      VisualEvidence    `json:"visual_evidence"`
	DiagnosticReasoning string            `json:"diagnostic_reasoning"`
	DiseaseManagement   DiseaseManagement `json:"disease_management"`
	Summary             *Summary          `json:"summary"`
}

// ParseResult извлекает JSON из текста модели и проверяет его.
// allowedClasses (может быть пустым) ограничивает final_class и class_en.
func ParseResult(text string, allowedClasses []string) (Result, error) {
	raw := []byte(util.ExtractJSON(text))
	if !json.Valid(raw) {
		return Result{}, ErrDecode
	}
	if t := bytes.TrimSpace(raw); len(t) == 0 || t[0] != '{' {
		return Result{}, fmt.Errorf("%w: top level is not an object", ErrSchema)
	}

	var w wire
	if err := json.Unmarshal(raw, &w); err != nil {
		// синтаксис уже проверен, значит не совпали типы (например, "85" или 85.5)
		return Result{}, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	switch {
	case w.ConfidenceLevel == nil:
		return Result{}, fmt.Errorf("%w: confidence_level is missing", ErrSchema)
	case *w.ConfidenceLevel < 0 || *w.ConfidenceLevel > 100:
		return Result{}, fmt.Errorf("%w: confidence_level %d is out of [0, 100]", ErrSchema, *w.ConfidenceLevel)
	case w.PrimaryIssue == nil || strings.TrimSpace(w.PrimaryIssue.ClassEN) == "":
		return Result{}, fmt.Errorf("%w: primary_issue.class_en is missing", ErrSchema)
	case w.CausalAgent == nil:
		return Result{}, fmt.Errorf("%w: causal_agent is missing", ErrSchema)
	case w.Summary == nil || strings.TrimSpace(w.Summary.FinalClass) == "":
		return Result{}, fmt.Errorf("%w: summary.final_class is missing", ErrSchema)
	}

	r := Result{
		ConfidenceLevel:     *w.ConfidenceLevel,
		PrimaryIssue:        *w.PrimaryIssue,
		CausalAgent:         strings.TrimSpace(*w.CausalAgent),
		VisualEvidence:      w.VisualEvidence,
		DiagnosticReasoning: w.DiagnosticReasoning,
		DiseaseManagement:   w.DiseaseManagement,
		Summary:             *w.Summary,
	}
	r.normalize()

	if len(allowedClasses) > 0 {
		for _, c := range []string{r.PrimaryIssue.ClassEN, r.Summary.FinalClass} {
			if !slices.Contains(allowedClasses, strings.ToLower(c)) {
				return Result{}, fmt.Errorf("%w: class %q is not one of %v", ErrSchema, c, allowedClasses)
			}
		}
		r.PrimaryIssue.ClassEN = strings.ToLower(r.PrimaryIssue.ClassEN)
		r.Summary.FinalClass = strings.ToLower(r.Summary.FinalClass)
	}
	return r, nil
}
