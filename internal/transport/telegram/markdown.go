package telegram

import (
	"strings"
)

var markdownV2Escapes = map[rune]bool{
	'\\': true, '_': true, '*': true, '[': true, ']': true, '(': true, ')': true,
	'~': true, '`': true, '>': true, '#': true, '+': true, '-': true, '=': true,
	'|': true, '{': true, '}': true, '.': true, '!': true,
}

// EscapeMarkdownV2 转义所有MarkdownV2保留字符
func EscapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 8)
	for _, ch := range text {
		if markdownV2Escapes[ch] {
			b.WriteByte('\\')
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// escapeCode 代码内只需转义反引号和反斜杠
func escapeCode(text string) string {
	r := strings.NewReplacer("\\", "\\\\", "`", "\\`")
	return r.Replace(text)
}

// RenderMarkdownV2 将模型输出的常见Markdown转换为Telegram MarkdownV2
//
// 支持代码块、行内代码、粗体和标题，其余字符全部转义。
// 未闭合的代码块会自动闭合，流式输出的中间状态也能渲染。
func RenderMarkdownV2(text string) string {
	var out strings.Builder
	lines := strings.Split(text, "\n")
	inFence := false

	for i, line := range lines {
		if i > 0 {
			out.WriteByte('\n')
		}
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			if inFence {
				out.WriteString("```")
			} else {
				lang := strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
				out.WriteString("```" + escapeCode(lang))
			}
			inFence = !inFence
			continue
		}
		if inFence {
			out.WriteString(escapeCode(line))
			continue
		}

		if heading, ok := parseHeading(trimmed); ok {
			out.WriteString("*" + renderInline(heading, false) + "*")
			continue
		}
		out.WriteString(renderInline(line, true))
	}

	if inFence {
		out.WriteString("\n```")
	}
	return out.String()
}

func parseHeading(line string) (string, bool) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 || level >= len(line) || line[level] != ' ' {
		return "", false
	}
	return strings.TrimSpace(line[level:]), true
}

// renderInline 处理行内代码与粗体，allowBold 为false时粗体标记原样转义
func renderInline(line string, allowBold bool) string {
	var b strings.Builder
	for len(line) > 0 {
		switch {
		case line[0] == '`':
			if end := strings.IndexByte(line[1:], '`'); end >= 0 {
				b.WriteString("`" + escapeCode(line[1:1+end]) + "`")
				line = line[end+2:]
				continue
			}
		case allowBold && strings.HasPrefix(line, "**"):
			if end := strings.Index(line[2:], "**"); end > 0 {
				b.WriteString("*" + EscapeMarkdownV2(line[2:2+end]) + "*")
				line = line[end+4:]
				continue
			}
		}
		next := nextSpecial(line[1:]) + 1
		b.WriteString(EscapeMarkdownV2(line[:next]))
		line = line[next:]
	}
	return b.String()
}

// nextSpecial 返回下一个可能开始行内格式的位置
func nextSpecial(s string) int {
	if i := strings.IndexAny(s, "`*"); i >= 0 {
		return i
	}
	return len(s)
}
