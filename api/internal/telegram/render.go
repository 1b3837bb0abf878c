package telegram

import (
	"fmt"
	"strings"

	"plantdoc-bot/api/internal/diagnosis"
)

// лимит Telegram 4096, оставляем запас под разметку
const maxMessageLen = 3900

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxMessageLen {
		return s
	}
	return string(r[:maxMessageLen]) + "…"
}

func line(b *strings.Builder, label, value string) {
	if value = strings.TrimSpace(value); value != "" {
		fmt.Fprintf(b, "*%s:* %s\n", label, esc(value))
	}
}

func list(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n*%s*\n", title)
	for _, it := range items {
		b.WriteString("• ")
		b.WriteString(esc(it))
		b.WriteByte('\n')
	}
}

// FormatDiagnosis - карточка диагноза в Markdown.
func FormatDiagnosis(r diagnosis.Result) string {
	var b strings.Builder
	b.WriteString("🌾 *Diagnosis*\n\n")
	if r.LowConfidence() {
		b.WriteString("⚠️ _Low confidence, treat this as a suggestion._\n\n")
	}
	line(&b, "Disease", r.Summary.FinalClass)
	line(&b, "Confidence", r.Summary.OverallConfidence)
	line(&b, "Severity", r.Summary.Severity)
	line(&b, "Causal agent", r.CausalAgent)
	if d := strings.TrimSpace(r.PrimaryIssue.Description); d != "" {
		b.WriteString("\n" + esc(d) + "\n")
	}

	ev := r.VisualEvidence
	if ev.SpotsDescription+ev.LesionShape+ev.Distribution+ev.SeverityObservation != "" {
		b.WriteString("\n*Visual evidence*\n")
		line(&b, "Spots", ev.SpotsDescription)
		line(&b, "Lesion shape", ev.LesionShape)
		line(&b, "Distribution", ev.Distribution)
		line(&b, "Severity", ev.SeverityObservation)
	}
	if s := strings.TrimSpace(r.DiagnosticReasoning); s != "" {
		b.WriteString("\n*Reasoning*\n" + esc(s) + "\n")
	}
	return truncate(strings.TrimRight(b.String(), "\n"))
}

// FormatTreatment - рекомендации по борьбе с болезнью.
func FormatTreatment(r diagnosis.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "💊 *Management of %s*\n", esc(r.Summary.FinalClass))
	dm := r.DiseaseManagement
	list(&b, "Cultural practices", dm.CulturalManagement)
	list(&b, "Cultivars and cropping system", dm.CultivarAndCroppingSystem)
	list(&b, "Monitoring and prevention", dm.MonitoringAndPrevention)
	list(&b, "Chemical control", dm.ChemicalManagement)
	if len(dm.CulturalManagement)+len(dm.CultivarAndCroppingSystem)+len(dm.MonitoringAndPrevention)+len(dm.ChemicalManagement) == 0 {
		b.WriteString("\nNo specific treatment is needed.\n")
	}
	if len(dm.ChemicalManagement) > 0 {
		b.WriteString("\n_Follow the label and local regulations when using chemicals._\n")
	}
	return truncate(strings.TrimRight(b.String(), "\n"))
}
