package pricing

import (
	"math"
	"time"
)

const (
	// 年化秒数（365 天）
	secondsPerYear = 365 * 24 * 3600.0

	// σ 下限，避免 d2 计算中除零
	volEpsilon = 1e-6
)

// NormCdf 计算标准正态分布的累积分布函数（CDF）
// Φ(z) = 0.5 * (1 + erf(z / sqrt(2)))
func NormCdf(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}

// ImpliedProbabilityAbove 返回到期时 spot > strike 的模型隐含概率。
//
// 退化情形：
//   - spot<=0 或 strike<=0：返回 0.5（无信息）
//   - 已到期：spot>strike 返回 1.0，否则 0.0
//
// 其余情形按对数正态假设：
//
//	d2 = (ln(spot/strike) - σ²T/2) / (σ√T)，结果 = Φ(d2)
func ImpliedProbabilityAbove(spot, strike float64, expiry time.Time, annualizedVol float64, now time.Time) float64 {
	if spot <= 0 || strike <= 0 {
		return 0.5
	}

	t := expiry.Sub(now).Seconds() / secondsPerYear
	if t <= 0 {
		if spot > strike {
			return 1.0
		}
		return 0.0
	}

	sigma := annualizedVol
	if sigma < volEpsilon {
		sigma = volEpsilon
	}

	sqrtT := math.Sqrt(t)
	d2 := (math.Log(spot/strike) - 0.5*sigma*sigma*t) / (sigma * sqrtT)
	p := NormCdf(d2)

	// 防御性钳制：浮点边界不外漏到持久化记录
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p
}

// ClampVolatility 将波动率估计钳制到 [min, max]。
// 薄数据下 getVolatility 可能给出 0 或病态大值，进入模型前必须钳制。
func ClampVolatility(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
