package formatter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// TextFormatter formats logs into text with included source code's path
type TextFormatter struct {
	timestampFormat string
	levelDesc       []string
}

// NewTextFormatter create new TextFormatter instance
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{
		levelDesc:       []string{"PANC", "FATL", "ERRO", "WARN", "INFO", "DEBG", "TRAC"},
		timestampFormat: "2006-01-02T15:04:05.000Z07:00",
	}
}

// Format renders a single log entry, fields are sorted by key
func (f *TextFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k == "source" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var fields string
	if len(keys) > 0 {
		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = fmt.Sprintf("%s: %v", k, entry.Data[k])
		}
		fields = fmt.Sprintf("[%s] ", strings.Join(pairs, ", "))
	}

	source := ""
	if src, ok := entry.Data["source"]; ok {
		source = fmt.Sprintf("%v: ", src)
	}

	level := f.parseLevel(entry.Level)
	return []byte(fmt.Sprintf("%s %s %s%s%s\n", entry.Time.Format(f.timestampFormat), level, fields, source, entry.Message)), nil
}

func (f *TextFormatter) parseLevel(level logrus.Level) string {
	if int(level) >= len(f.levelDesc) {
		return ""
	}

	return f.levelDesc[level]
}
