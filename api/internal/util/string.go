package util

import (
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("```(?:json|JSON)?\\s*([\\s\\S]*?)```")

// ExtractJSON вытаскивает JSON из ответа модели: сначала из ```json ...```,
// иначе берёт кусок от первой { до последней }.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if i, j := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}'); i >= 0 && j > i {
		return s[i : j+1]
	}
	return s
}
