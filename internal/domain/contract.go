package domain

import "time"

// ContractMeta 一个已解析的二元阈值合约。
// 整个列表由 discovery 每轮整体替换（原子换入），不做原地修改。
type ContractMeta struct {
	ConditionID string // 唯一标识，跨 tag 去重用
	Question    string // 原始问题文本
	YesTokenID  string
	NoTokenID   string
	StrikeUSD   float64 // 0 表示非阈值市场（不可用模型定价）
	ExpiryTs    time.Time
}

// Priced 是否带有可定价的行权价
func (c ContractMeta) Priced() bool {
	return c.StrikeUSD > 0
}

// SecondsToExpiry 距到期秒数（可为负）
func (c ContractMeta) SecondsToExpiry(now time.Time) float64 {
	return c.ExpiryTs.Sub(now).Seconds()
}
