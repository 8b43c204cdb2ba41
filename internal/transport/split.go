package transport

import (
	"strings"
	"unicode/utf8"
)

// SplitText 按字符数切分长文本，尽量在换行处断开
func SplitText(text string, max int) []string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var parts []string
	runes := []rune(text)
	for len(runes) > max {
		cut := max
		// 在后半段寻找换行
		if idx := lastNewline(runes[:max]); idx >= max/2 {
			cut = idx + 1
		}
		if part := strings.TrimRight(string(runes[:cut]), "\n"); part != "" {
			parts = append(parts, part)
		}
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

func lastNewline(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	return -1
}
