package relay

import (
	"math"
	"strings"
	"time"
)

// FileSizeMB 字节数换算为MiB，保留两位小数
func FileSizeMB(sizeBytes int64) float64 {
	return math.Round(float64(sizeBytes)/(1024*1024)*100) / 100
}

// Timestamp 统一的时间戳格式（UTC, RFC3339）
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseSections 把模型的分节要点文本解析成结构化列表
// 约定：以冒号结尾的行是小节标题，以•/-/*开头的行是要点，
// 其余文本行并入当前小节最后一个要点
func ParseSections(text string) []Section {
	sections := []Section{}
	var current *Section

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if isBulletLine(line) {
			bullet := strings.TrimSpace(strings.TrimLeft(line, "•*- "))
			if bullet == "" {
				continue
			}
			if current == nil {
				sections = append(sections, Section{Bullets: []string{}})
				current = &sections[len(sections)-1]
			}
			current.Bullets = append(current.Bullets, bullet)
			continue
		}

		if header, ok := headerOf(line); ok {
			sections = append(sections, Section{Header: header, Bullets: []string{}})
			current = &sections[len(sections)-1]
			continue
		}

		// 普通文本行：续接上一个要点，或者作为无标题小节的首行
		if current != nil {
			if len(current.Bullets) > 0 {
				current.Bullets[len(current.Bullets)-1] += " " + line
			} else {
				current.Bullets = append(current.Bullets, line)
			}
			continue
		}
		sections = append(sections, Section{Bullets: []string{line}})
		current = &sections[len(sections)-1]
	}

	return sections
}

// isBulletLine 是否为要点行
func isBulletLine(line string) bool {
	return strings.HasPrefix(line, "•") ||
		strings.HasPrefix(line, "- ") ||
		strings.HasPrefix(line, "* ")
}

// headerOf 尝试把一行解析为小节标题
// 兼容模型偶尔输出的markdown加粗标题（**FINDINGS:**）
func headerOf(line string) (string, bool) {
	trimmed := strings.Trim(line, "*# ")
	if !strings.HasSuffix(trimmed, ":") {
		return "", false
	}
	header := strings.TrimSpace(strings.TrimSuffix(trimmed, ":"))
	if header == "" {
		return "", false
	}
	return header, true
}
