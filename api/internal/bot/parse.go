package bot

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"plantdoc-bot/api/internal/diagnosis"
)

type keyword[T any] struct {
	word  string
	value T
}

// Длинные тайские слова раньше коротких: "ข้าวโพด" содержит "ข้าว", "กาบใบ" содержит "ใบ".
var plantTypeWords = []keyword[diagnosis.Category]{
	{"ข้าวโพดเลี้ยงสัตว์", diagnosis.Corn},
	{"ข้าวโพด", diagnosis.Corn},
	{"มันสำปะหลัง", diagnosis.Cassava},
	{"ข้าว", diagnosis.Rice},
	{"อ้อย", diagnosis.Sugarcane},
	{"พืชผัก", diagnosis.Vegetable},
	{"ไม้ผล", diagnosis.Fruit},
	{"ผลไม้", diagnosis.Fruit},
	{"ผัก", diagnosis.Vegetable},
	{"มัน", diagnosis.Cassava},
	{"sugar cane", diagnosis.Sugarcane},
	{"sugarcane", diagnosis.Sugarcane},
	{"cassava", diagnosis.Cassava},
	{"maize", diagnosis.Corn},
	{"corn", diagnosis.Corn},
	{"rice", diagnosis.Rice},
	{"vegetable", diagnosis.Vegetable},
	{"fruit", diagnosis.Fruit},
}

var plantPartWords = []keyword[diagnosis.Part]{
	{"กาบใบ", diagnosis.Sheath},
	{"ลำต้น", diagnosis.Stem},
	{"กาบ", diagnosis.Sheath},
	{"ราก", diagnosis.Root},
	{"ใบ", diagnosis.Leaf},
	{"sheath", diagnosis.Sheath},
	{"leaf", diagnosis.Leaf},
	{"leaves", diagnosis.Leaf},
	{"stem", diagnosis.Stem},
	{"root", diagnosis.Root},
}

// match: тайские ключи ищутся подстрокой, английские только целыми словами
// ("price" не rice, "system" не stem).
func match[T any](text string, words []keyword[T]) (T, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	padded := " " + strings.Join(strings.FieldsFunc(t, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ") + " "
	for _, k := range words {
		if isASCII(k.word) {
			if strings.Contains(padded, " "+k.word+" ") {
				return k.value, true
			}
		} else if strings.Contains(t, k.word) {
			return k.value, true
		}
	}
	var zero T
	return zero, false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// ParsePlantType понимает английские ключи и тайские названия культур.
func ParsePlantType(text string) (diagnosis.Category, bool) {
	if c, ok := match(text, plantTypeWords); ok {
		return c, true
	}
	if c := diagnosis.Category(strings.ToLower(strings.TrimSpace(text))); c.Valid() {
		return c, true
	}
	return "", false
}

func ParsePlantPart(text string) (diagnosis.Part, bool) {
	if p, ok := match(text, plantPartWords); ok {
		return p, true
	}
	if p := diagnosis.Part(strings.ToLower(strings.TrimSpace(text))); p.Valid() {
		return p, true
	}
	return "", false
}

// ParsePostback разбирает "k=v&k2=v2".
func ParsePostback(data string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(data, "&") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

var (
	greetingsTH = []string{"สวัสดี", "หวัดดี", "ดีครับ", "ดีค่ะ"}
	greetingsEN = []string{"hello", "hi", "hey"}
	helpTH      = []string{"ช่วย", "วิธีใช้", "ใช้งาน", "ยังไง", "อย่างไร", "คำสั่ง", "เมนู"}
	helpEN      = []string{"help", "menu"}
	skipTH      = []string{"ข้าม", "ไม่ระบุ", "ไม่ทราบ"}
	skipEN      = []string{"skip", "-"}
)

// тайский пишется без пробелов, поэтому там подстрока; английский по словам
func hasKeyword(text string, th, en []string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, w := range th {
		if strings.Contains(t, w) {
			return true
		}
	}
	for _, f := range strings.FieldsFunc(t, func(r rune) bool { return r == ' ' || r == ',' || r == '.' || r == '!' || r == '?' }) {
		for _, w := range en {
			if f == w {
				return true
			}
		}
	}
	return false
}

func IsGreeting(text string) bool { return hasKeyword(text, greetingsTH, greetingsEN) }
func IsHelp(text string) bool     { return hasKeyword(text, helpTH, helpEN) }
func IsSkip(text string) bool     { return hasKeyword(text, skipTH, skipEN) }

var (
	reControl = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")
	reSpaces  = regexp.MustCompile(`\s+`)
)

// Sanitize убирает управляющие символы, схлопывает пробелы и обрезает до limit рун.
func Sanitize(text string, limit int) string {
	text = reControl.ReplaceAllString(text, "")
	text = strings.TrimSpace(reSpaces.ReplaceAllString(text, " "))
	if limit > 0 && utf8.RuneCountInString(text) > limit {
		text = string([]rune(text)[:limit]) + "..."
	}
	return text
}
