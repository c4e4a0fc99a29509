package semcache

import (
	"regexp"
	"strings"
)

// PIIType PII 类型
type PIIType string

const (
	PIITypeEmail PIIType = "email"
	PIITypePhone PIIType = "phone"
	PIITypeCard  PIIType = "card"
)

// PIIMatch 一处 PII 命中。
type PIIMatch struct {
	Type     PIIType `json:"type"`
	Value    string  `json:"value"`
	Position int     `json:"position"`
}

// Detector PII 检测与脱敏能力。实现必须对相同输入产出确定性结果。
type Detector interface {
	// Detect 返回文本中的全部 PII 命中。
	Detect(text string) ([]PIIMatch, error)

	// Redact 把 PII 替换为类型标记（如 [EMAIL]），返回脱敏文本。
	Redact(text string) (string, error)
}

// RegexDetector 正则 PII 检测器。
type RegexDetector struct {
	patterns map[PIIType]*regexp.Regexp
}

// NewRegexDetector 创建带默认模式的检测器。
func NewRegexDetector() *RegexDetector {
	return &RegexDetector{
		patterns: map[PIIType]*regexp.Regexp{
			PIITypeEmail: regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
			// 国际区号可选的 10-14 位号码，以及 1[3-9] 开头的大陆手机号
			PIITypePhone: regexp.MustCompile(`\+?\d[\d -]{8,13}\d`),
			PIITypeCard:  regexp.MustCompile(`\b\d{16,19}\b`),
		},
	}
}

// Detect 返回全部命中，按出现位置排序不做保证。
func (d *RegexDetector) Detect(text string) ([]PIIMatch, error) {
	var matches []PIIMatch
	for piiType, pattern := range d.patterns {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			matches = append(matches, PIIMatch{
				Type:     piiType,
				Value:    text[loc[0]:loc[1]],
				Position: loc[0],
			})
		}
	}
	return matches, nil
}

// Redact 把命中替换为 [TYPE] 标记。
func (d *RegexDetector) Redact(text string) (string, error) {
	out := text
	// 先邮箱后电话，避免电话模式吃掉邮箱里的数字段
	for _, piiType := range []PIIType{PIITypeEmail, PIITypeCard, PIITypePhone} {
		pattern, ok := d.patterns[piiType]
		if !ok {
			continue
		}
		marker := "[" + strings.ToUpper(string(piiType)) + "]"
		out = pattern.ReplaceAllString(out, marker)
	}
	return out, nil
}

// ====== 安全门 ======

// RejectReason 写入被拒绝的原因。
type RejectReason string

const (
	RejectNone            RejectReason = ""
	RejectPII             RejectReason = "pii"
	RejectPersonalization RejectReason = "personalization"
	RejectQuality         RejectReason = "quality"
	RejectDetectorDown    RejectReason = "detector_down"
	RejectDuplicate       RejectReason = "duplicate"
)

// personalizationMarkers 响应里出现即视为针对特定用户，不可复用。
var personalizationMarkers = []string{
	"your account",
	"your subscription",
	"your order",
	"as we discussed",
	"as you mentioned",
	"dear ",
}

// errorLeakPhrases 响应疑似内部错误外泄，质量不合格。
var errorLeakPhrases = []string{
	"internal server error",
	"stack trace",
	"traceback (most recent call last)",
	"nullpointerexception",
	"an error occurred while",
}

// SafetyGateConfig 安全门配置。
type SafetyGateConfig struct {
	// MinResponseLength 响应短于该字符数视为低质量。
	MinResponseLength int `json:"min_response_length" yaml:"min_response_length"`
}

// SafetyGate 写入前的响应审查。detector 为 nil 或出错时一律拒绝（故障安全）。
type SafetyGate struct {
	cfg      SafetyGateConfig
	detector Detector
}

// NewSafetyGate 创建安全门。
func NewSafetyGate(cfg SafetyGateConfig, detector Detector) *SafetyGate {
	if cfg.MinResponseLength <= 0 {
		cfg.MinResponseLength = 20
	}
	return &SafetyGate{cfg: cfg, detector: detector}
}

// Check 审查响应，返回拒绝原因；RejectNone 表示可以缓存。
func (g *SafetyGate) Check(response string) RejectReason {
	if g.detector == nil {
		return RejectDetectorDown
	}

	matches, err := g.detector.Detect(response)
	if err != nil {
		return RejectDetectorDown
	}
	if len(matches) > 0 {
		return RejectPII
	}

	lower := strings.ToLower(response)
	for _, marker := range personalizationMarkers {
		if strings.Contains(lower, marker) {
			return RejectPersonalization
		}
	}

	if len(strings.TrimSpace(response)) < g.cfg.MinResponseLength {
		return RejectQuality
	}
	for _, phrase := range errorLeakPhrases {
		if strings.Contains(lower, phrase) {
			return RejectQuality
		}
	}

	return RejectNone
}
