package bot

import (
	"fmt"
	"strings"

	"plantdoc-bot/api/internal/diagnosis"
	"plantdoc-bot/api/internal/store"
)

const (
	MsgWelcome = "Hello! I diagnose plant diseases from photos.\n\n" +
		"1. Send a clear photo of the affected part of the plant.\n" +
		"2. Tell me the crop and the affected part.\n" +
		"3. Get the diagnosis and the treatment advice.\n\n" +
		"Commands: /help, /history, /new"
	MsgHelp = "Send a .jpg, .png or .webp photo of the symptoms. Take it in daylight, close enough to see the spots.\n\n" +
		"/new start over\n/history your recent diagnoses\n/health service status"
	MsgAskPhoto       = "Please send a photo of the plant you want to diagnose 📷"
	MsgAskPhotoAgain  = "Please send the photo again 📷"
	MsgAskPlantType   = "What crop is this?"
	MsgUnknownType    = "I did not recognise the crop. Please pick one of the options."
	MsgAskPlantPart   = "Which part of the plant is affected? You can also describe the symptoms in your own words."
	MsgProcessing     = "Analysing the photo, this usually takes a few seconds..."
	MsgNoResult       = "No diagnosis found. Please send a new photo."
	MsgLowConfidence  = "The system could not make a confident diagnosis. Consider sending a clearer photo or consulting an expert. The best guess is below."
	MsgHistoryEmpty   = "You have no diagnoses yet."
	MsgHistoryOff     = "History is not available."
	MsgHealthOK       = "✅ OK"
	MsgHealthDegraded = "⚠️ Storage is not reachable, answers may be slower."
	MsgUnknownCommand = "Unknown command. " + MsgHelp

	skipData = "plant_part=skip"
)

// PlantTypeChoices - кнопки культур в порядке перечисления.
func PlantTypeChoices() []Choice {
	out := make([]Choice, 0, len(diagnosis.Categories))
	for _, c := range diagnosis.Categories {
		out = append(out, Choice{Label: c.Label() + " (" + c.LocalName() + ")", Data: "plant_type=" + string(c)})
	}
	return out
}

// PlantPartChoices: части растения и "пропустить".
func PlantPartChoices() []Choice {
	out := make([]Choice, 0, len(diagnosis.Parts)+1)
	for _, p := range diagnosis.Parts {
		out = append(out, Choice{Label: p.Label() + " (" + p.LocalName() + ")", Data: "plant_part=" + string(p)})
	}
	return append(out, Choice{Label: "Skip", Data: skipData})
}

func formatHistory(recs []store.Record) string {
	var b strings.Builder
	b.WriteString("Your recent diagnoses:\n")
	for i, r := range recs {
		fmt.Fprintf(&b, "%d. %s  %s: %s (%d%%)\n",
			i+1, r.CreatedAt.UTC().Format("2006-01-02 15:04"), r.Category.Label(),
			r.Result.Summary.FinalClass, r.Result.ConfidenceLevel)
	}
	return strings.TrimRight(b.String(), "\n")
}
