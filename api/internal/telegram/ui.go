package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"plantdoc-bot/api/internal/bot"
)

const (
	choicesPerRow = 2

	dataShowDiagnosis = "show_diagnosis=1"
	dataShowTreatment = "show_treatment=1"
	dataNewDiagnosis  = "new_diagnosis=1"
)

func choicesKeyboard(choices []bot.Choice) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for i := 0; i < len(choices); i += choicesPerRow {
		var row []tgbotapi.InlineKeyboardButton
		for _, c := range choices[i:min(i+choicesPerRow, len(choices))] {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(c.Label, c.Data))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func diagnosisKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💊 Treatment", dataShowTreatment),
			tgbotapi.NewInlineKeyboardButtonData("📷 New diagnosis", dataNewDiagnosis),
		),
	)
}

func treatmentKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔬 Diagnosis", dataShowDiagnosis),
			tgbotapi.NewInlineKeyboardButtonData("📷 New diagnosis", dataNewDiagnosis),
		),
	)
}

// isChoiceKeyboard: кнопки выбора культуры или части растения.
func isChoiceKeyboard(kb tgbotapi.InlineKeyboardMarkup) bool {
	for _, row := range kb.InlineKeyboard {
		for _, b := range row {
			if b.CallbackData != nil && (strings.HasPrefix(*b.CallbackData, "plant_type=") || strings.HasPrefix(*b.CallbackData, "plant_part=")) {
				return true
			}
		}
	}
	return false
}

// лёгкое экранирование для Markdown
func esc(s string) string {
	s = strings.ReplaceAll(s, "`", "'")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "[", "\\[")
	return s
}
