package discovery

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/betbot/strikebot/internal/domain"
)

// gammaMarket Gamma API 市场行
type gammaMarket struct {
	ID           string          `json:"id"`
	Question     string          `json:"question"`
	ConditionID  string          `json:"conditionId"`
	Slug         string          `json:"slug"`
	ClobTokenIDs json.RawMessage `json:"clobTokenIds"` // 数组或 JSON 编码的字符串
	Outcomes     json.RawMessage `json:"outcomes"`     // 同上
	EndDate      string          `json:"endDate"`
}

// 行权价提取模式，按序匹配，先中先得。
// 覆盖 "$110,000"、"$110000.50"、"110k"、"110.5K" 等写法。
var strikePatterns = []struct {
	re      *regexp.Regexp
	multiplier float64
}{
	{regexp.MustCompile(`\$([0-9][0-9,]*(?:\.[0-9]+)?)`), 1},
	{regexp.MustCompile(`\b([0-9]+(?:\.[0-9]+)?)\s*[kK]\b`), 1000},
}

// parseStrike 从问题文本提取行权价（美元）。失败返回 0。
func parseStrike(question string) float64 {
	for _, p := range strikePatterns {
		m := p.re.FindStringSubmatch(question)
		if len(m) < 2 {
			continue
		}
		raw := strings.ReplaceAll(m[1], ",", "")
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			continue
		}
		return v * p.multiplier
	}
	return 0
}

// parseEndDate 解析结构化 end-date 字段，不可解析或已过期返回 zero time。
func parseEndDate(raw string, now time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	var ts time.Time
	var err error
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02"} {
		ts, err = time.Parse(layout, raw)
		if err == nil {
			break
		}
	}
	if err != nil || !ts.After(now) {
		return time.Time{}
	}
	return ts
}

// parseStringArray 解析可能是数组也可能是 JSON 编码字符串的字段
func parseStringArray(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr
	}
	// JSON 字符串包着的数组："[\"...\",\"...\"]"
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return nil
	}
	return arr
}

// parseTokenIDs 根据 outcomes 标签把 token id 映射到 YES/NO 位置，
// 标签缺失或不可识别时回退到按位置（第 0 个为 YES）。
func parseTokenIDs(tokenRaw, outcomeRaw json.RawMessage) (yes, no string) {
	tokens := parseStringArray(tokenRaw)
	if len(tokens) != 2 || tokens[0] == "" || tokens[1] == "" {
		return "", ""
	}

	outcomes := parseStringArray(outcomeRaw)
	if len(outcomes) == 2 {
		first := strings.ToLower(strings.TrimSpace(outcomes[0]))
		second := strings.ToLower(strings.TrimSpace(outcomes[1]))
		if first == "no" && second == "yes" {
			return tokens[1], tokens[0]
		}
	}
	return tokens[0], tokens[1]
}

// parseRow 把一个 Gamma 行解析为 ContractMeta。
// allowGeneric 为 false 时行权价解析失败即丢弃；
// 为 true 时保留 StrikeUSD=0 的普通二元市场（模型定价策略须跳过）。
func parseRow(row gammaMarket, now time.Time, allowGeneric bool) (domain.ContractMeta, bool) {
	if row.ConditionID == "" {
		return domain.ContractMeta{}, false
	}

	expiry := parseEndDate(row.EndDate, now)
	if expiry.IsZero() {
		return domain.ContractMeta{}, false
	}

	yes, no := parseTokenIDs(row.ClobTokenIDs, row.Outcomes)
	if yes == "" || no == "" {
		return domain.ContractMeta{}, false
	}

	strike := parseStrike(row.Question)
	if strike <= 0 && !allowGeneric {
		return domain.ContractMeta{}, false
	}

	return domain.ContractMeta{
		ConditionID: row.ConditionID,
		Question:    row.Question,
		YesTokenID:  yes,
		NoTokenID:   no,
		StrikeUSD:   strike,
		ExpiryTs:    expiry,
	}, true
}
