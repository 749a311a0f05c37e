package notify

import "strings"

// TelegramLimit: предельная длина сообщения Telegram в символах.
const TelegramLimit = 4096

// SplitMessage режет оповещение на части не длиннее limit символов.
// Карточки отзывов разделены пустой строкой и переносятся целиком; карточка
// длиннее limit режется по строкам, строка длиннее limit режется по символам.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = TelegramLimit
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if runeLen(trimmed) <= limit {
		return []string{trimmed}
	}

	var blocks []string
	for _, block := range strings.Split(trimmed, "\n\n") {
		block = strings.Trim(block, "\n")
		if block == "" {
			continue
		}
		if runeLen(block) <= limit {
			blocks = append(blocks, block)
			continue
		}
		blocks = append(blocks, pack(splitLines(block, limit), "\n", limit)...)
	}
	return pack(blocks, "\n\n", limit)
}

// splitLines разбивает карточку на строки, не длиннее limit каждая.
func splitLines(block string, limit int) []string {
	var lines []string
	for _, line := range strings.Split(block, "\n") {
		runes := []rune(line)
		for len(runes) > limit {
			lines = append(lines, string(runes[:limit]))
			runes = runes[limit:]
		}
		if len(runes) > 0 {
			lines = append(lines, string(runes))
		}
	}
	return lines
}

// pack склеивает куски через sep, пока часть помещается в limit.
func pack(chunks []string, sep string, limit int) []string {
	var parts []string
	var cur strings.Builder
	curLen := 0
	sepLen := runeLen(sep)
	for _, chunk := range chunks {
		n := runeLen(chunk)
		if curLen > 0 && curLen+sepLen+n > limit {
			parts = append(parts, cur.String())
			cur.Reset()
			curLen = 0
		}
		if curLen > 0 {
			cur.WriteString(sep)
			curLen += sepLen
		}
		cur.WriteString(chunk)
		curLen += n
	}
	if curLen > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func runeLen(s string) int { return len([]rune(s)) }
