package topic

import (
	"strings"
	"unicode"
)

// Label 表示会话所属的 HR 主题。
type Label string

const (
	General           Label = "general"
	Policy            Label = "policy"
	Certification     Label = "certification"
	EmployeeRelations Label = "employee-relations"
	Benefits          Label = "benefits"
	Recruiting        Label = "recruiting"
	Compensation      Label = "compensation"
	Compliance        Label = "compliance"
	Training          Label = "training"
)

// Decision 给出主题识别结果与得分。
type Decision struct {
	Topic Label
	Score int
}

var keywordBuckets = map[Label][]string{
	Policy: {
		"policy", "policies", "handbook", "pto", "paid time off", "leave", "vacation", "sick day",
		"remote work", "dress code", "attendance", "code of conduct", "procedure",
	},
	Certification: {
		"shrm", "shrm-cp", "shrm-scp", "phr", "sphr", "certification", "certified", "exam",
		"recertification", "pdc", "bask", "study plan",
	},
	EmployeeRelations: {
		"employee relations", "conflict", "grievance", "complaint", "harassment", "investigation",
		"disciplinary", "discipline", "termination", "performance improvement", "pip", "morale", "coworker",
	},
	Benefits: {
		"benefit", "benefits", "health insurance", "401k", "401(k)", "retirement", "cobra", "hsa", "fsa",
		"dental", "vision", "open enrollment", "wellness",
	},
	Recruiting: {
		"recruit", "recruiting", "hiring", "hire", "interview", "candidate", "job description",
		"onboarding", "offer letter", "sourcing", "applicant", "talent acquisition",
	},
	Compensation: {
		"salary", "salaries", "compensation", "pay", "payroll", "bonus", "raise", "pay band",
		"overtime", "merit", "equity", "wage",
	},
	Compliance: {
		"compliance", "fmla", "ada", "flsa", "eeoc", "osha", "title vii", "i-9", "labor law",
		"discrimination", "lawsuit", "regulation", "audit",
	},
	Training: {
		"training", "learning", "development", "coaching", "mentoring", "leadership program",
		"upskilling", "workshop", "course", "career path",
	},
}

var topicTitles = map[Label]string{
	Policy:            "HR Policy Questions",
	Certification:     "SHRM Certification Help",
	EmployeeRelations: "Employee Relations",
	Benefits:          "Benefits Questions",
	Recruiting:        "Recruiting and Hiring",
	Compensation:      "Compensation and Pay",
	Compliance:        "Compliance and Labor Law",
	Training:          "Training and Development",
}

const (
	maxTitleWords = 6
	maxTitleRunes = 48
)

// Analyze 根据用户提问与 AI 回复推断会话主题。用户提问的权重高于回复。
func Analyze(userMessage, assistantMessage string) Decision {
	scores := make(map[Label]int)
	for label, s := range scoreText(userMessage) {
		scores[label] += s * 2
	}
	for label, s := range scoreText(assistantMessage) {
		scores[label] += s
	}

	best := Decision{Topic: General}
	for _, label := range labelOrder {
		if s := scores[label]; s > best.Score {
			best = Decision{Topic: label, Score: s}
		}
	}
	return best
}

// labelOrder breaks ties deterministically.
var labelOrder = []Label{
	Certification, Compliance, EmployeeRelations, Benefits, Compensation, Recruiting, Training, Policy,
}

// Title 返回侧边栏标题：命中主题时使用主题名，否则截取用户提问开头。
func Title(userMessage, assistantMessage string) string {
	decision := Analyze(userMessage, assistantMessage)
	if title, ok := topicTitles[decision.Topic]; ok {
		return title
	}
	return Excerpt(userMessage)
}

// TitleFor returns the canonical title for a topic, or "" for General.
func TitleFor(label Label) string {
	return topicTitles[label]
}

// Excerpt shortens text to its first few words.
func Excerpt(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	truncated := len(words) > maxTitleWords
	if truncated {
		words = words[:maxTitleWords]
	}
	excerpt := strings.Join(words, " ")

	if runes := []rune(excerpt); len(runes) > maxTitleRunes {
		excerpt = strings.TrimSpace(string(runes[:maxTitleRunes]))
		truncated = true
	}
	excerpt = strings.TrimRightFunc(excerpt, unicode.IsPunct)
	if truncated {
		excerpt += "..."
	}
	return excerpt
}

func scoreText(text string) map[Label]int {
	normalized := " " + strings.ToLower(strings.TrimSpace(text)) + " "
	scores := make(map[Label]int)
	if strings.TrimSpace(normalized) == "" {
		return scores
	}

	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if containsWord(normalized, word) {
				scores[label] += 3
			}
		}
	}
	return scores
}

// containsWord matches word only at letter and digit boundaries.
func containsWord(text, word string) bool {
	for idx := 0; ; {
		pos := strings.Index(text[idx:], word)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(word)
		if !isWordRune(text, start-1) && !isWordRune(text, end) {
			return true
		}
		idx = start + 1
	}
}

func isWordRune(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return false
	}
	c := rune(text[i])
	return unicode.IsLetter(c) || unicode.IsDigit(c)
}
