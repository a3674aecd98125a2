// Package control 对外控制面：pause / resume / getStatus / getConfig。
// 核心只暴露这一组方法，宿主（CLI、HTTP、chat 机器人）自行接线。
package control

import (
	"github.com/betbot/strikebot/internal/domain"
	"github.com/betbot/strikebot/internal/ledger"
	"github.com/betbot/strikebot/internal/risk"
	"github.com/betbot/strikebot/pkg/config"
)

// StatusSnapshot 运行状态的唯一外部读模型
type StatusSnapshot struct {
	Mode               string  `json:"mode"` // paper / live
	Paused             bool    `json:"paused"`
	TradesToday        int     `json:"trades_today"`
	WinCountToday      int     `json:"win_count_today"`
	TodayPnlUSD        float64 `json:"today_pnl_usd"`
	BankrollUSD        float64 `json:"bankroll_usd"`
	ContractsWatched   int     `json:"contracts_watched"`
	ReferenceLastPrice float64 `json:"reference_last_price"`
}

// Surface 把散落在 gate / ledger / discovery / feed 的状态拼成一个面
type Surface struct {
	mode      string
	cfg       *config.Config
	gate      *risk.Gate
	ledger    *ledger.Ledger
	contracts func() []domain.ContractMeta
	refPrice  func() float64
}

func New(mode string, cfg *config.Config, gate *risk.Gate, led *ledger.Ledger,
	contracts func() []domain.ContractMeta, refPrice func() float64) *Surface {
	return &Surface{
		mode:      mode,
		cfg:       cfg,
		gate:      gate,
		ledger:    led,
		contracts: contracts,
		refPrice:  refPrice,
	}
}

func (s *Surface) Pause() {
	if s.gate != nil {
		s.gate.Pause()
	}
}

func (s *Surface) Resume() {
	if s.gate != nil {
		s.gate.Resume()
	}
}

// GetStatus 尽力而为：某个依赖缺失时对应字段给零值，不让整个调用失败
func (s *Surface) GetStatus() StatusSnapshot {
	snap := StatusSnapshot{Mode: s.mode}

	if s.gate != nil {
		st := s.gate.Status()
		snap.Paused = st.Paused
		snap.TradesToday = st.TradesToday
	}
	if s.ledger != nil {
		agg := s.ledger.Snapshot()
		snap.WinCountToday = agg.WinCount
		snap.TodayPnlUSD = agg.TotalPnlUSD
		snap.BankrollUSD = agg.BankrollEnd
	}
	if snap.BankrollUSD == 0 && s.cfg != nil {
		snap.BankrollUSD = s.cfg.Engine.BankrollUSD
	}
	if s.contracts != nil {
		snap.ContractsWatched = len(s.contracts())
	}
	if s.refPrice != nil {
		snap.ReferenceLastPrice = s.refPrice()
	}
	return snap
}

func (s *Surface) GetConfig() *config.Config { return s.cfg }
