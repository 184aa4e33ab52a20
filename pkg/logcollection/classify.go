package logcollection

import "strings"

// Rule maps keywords to a level. Matching is done on the lowercased line.
type Rule struct {
	Level    Level
	Contains []string
	Prefixes []string
}

func (r Rule) matches(lower string) bool {
	for _, keyword := range r.Contains {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	for _, prefix := range r.Prefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// Classifier assigns a level to a raw line with keyword heuristics. The first
// matching rule wins; unmatched lines are info. It is approximate by nature.
type Classifier struct {
	rules []Rule
}

func NewClassifier(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

func DefaultRules() []Rule {
	return []Rule{
		{
			Level:    LevelError,
			Contains: []string{"error", "[err]", " err ", " err:", "fatal", "panic", "exception"},
			Prefixes: []string{"err ", "err:", "e "},
		},
		{
			Level:    LevelWarn,
			Contains: []string{"warn", "[wrn]", "deprecat"},
			Prefixes: []string{"w "},
		},
		{
			Level:    LevelDebug,
			Contains: []string{"debug", "[dbg]", "trace"},
			Prefixes: []string{"d "},
		},
	}
}

var defaultClassifier = NewClassifier(DefaultRules())

func DefaultClassifier() *Classifier {
	return defaultClassifier
}

func (c *Classifier) Classify(line string) Level {
	lower := strings.ToLower(line)
	for _, rule := range c.rules {
		if rule.matches(lower) {
			return rule.Level
		}
	}
	return LevelInfo
}

// Classify uses the default rules.
func Classify(line string) Level {
	return defaultClassifier.Classify(line)
}
