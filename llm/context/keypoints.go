package context

import (
	"regexp"

	"github.com/Axthefish/cogcoach/types"
)

// 打分规则（启发式，中英混合语料调参）：
//   +1 用户消息；+3 决断类关键词；+2 具体事实（数字化时间/金钱/频率）；
//   +1 一般重要性关键词；+1 长度>150 字符，再 +1 长度>300。
// 得分 >= 阈值（默认 4）即视为关键转折点，压缩时原文保留。
var (
	decisivePattern = regexp.MustCompile(`(?i)必须|一定要|不能|不行|没办法|约束|限制|前提|确认|决定|就这么定|must|cannot|can't|won't|constraint|confirm(ed)?|decide[ds]?|non-negotiable`)

	concreteFactPattern = regexp.MustCompile(`(?i)\d+(\.\d+)?\s*(分钟|小时|天|周|个月|年|元|块|万|千|次|遍|公里|斤|minutes?|hours?|days?|weeks?|months?|years?|times|reps?|km|kg|\$|¥|usd|rmb)|每[天周月年]|per\s+(day|week|month|year)`)

	generalKeywordPattern = regexp.MustCompile(`(?i)目标|计划|希望|重要|关键|核心|优先|担心|困难|瓶颈|goal|plan|important|key|core|priority|worr(y|ied)|struggle|blocker`)
)

// ScoreWeights 关键转折点打分权重。
type ScoreWeights struct {
	UserRole       int `yaml:"user_role" json:"user_role"`
	DecisiveMatch  int `yaml:"decisive_match" json:"decisive_match"`
	ConcreteFact   int `yaml:"concrete_fact" json:"concrete_fact"`
	GeneralKeyword int `yaml:"general_keyword" json:"general_keyword"`
	LengthBonus    int `yaml:"length_bonus" json:"length_bonus"`
	Threshold      int `yaml:"threshold" json:"threshold"`
}

// DefaultScoreWeights returns the empirical defaults.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		UserRole:       1,
		DecisiveMatch:  3,
		ConcreteFact:   2,
		GeneralKeyword: 1,
		LengthBonus:    1,
		Threshold:      4,
	}
}

// ScoreMessage returns the information-density score of a single message.
func ScoreMessage(msg types.ChatMessage, w ScoreWeights) int {
	score := 0
	if msg.Role == types.RoleUser {
		score += w.UserRole
	}
	if decisivePattern.MatchString(msg.Content) {
		score += w.DecisiveMatch
	}
	if concreteFactPattern.MatchString(msg.Content) {
		score += w.ConcreteFact
	}
	if generalKeywordPattern.MatchString(msg.Content) {
		score += w.GeneralKeyword
	}
	if len([]rune(msg.Content)) > 150 {
		score += w.LengthBonus
	}
	if len([]rune(msg.Content)) > 300 {
		score += w.LengthBonus
	}
	return score
}

// IdentifyKeyTurningPoints returns the set of message indices whose score
// reaches the threshold.
func IdentifyKeyTurningPoints(msgs []types.ChatMessage, w ScoreWeights) map[int]struct{} {
	keys := make(map[int]struct{})
	for i, msg := range msgs {
		if ScoreMessage(msg, w) >= w.Threshold {
			keys[i] = struct{}{}
		}
	}
	return keys
}
