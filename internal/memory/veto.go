package memory

import (
	"fmt"
	"sync"
)

// ConfusionMatrix 四格计数：
// TP = 否决且本会亏损；FP = 否决但本会盈利；
// TN = 放行且盈利；FN = 放行但亏损。
type ConfusionMatrix struct {
	TruePositive  int `json:"true_positive"`
	FalsePositive int `json:"false_positive"`
	TrueNegative  int `json:"true_negative"`
	FalseNegative int `json:"false_negative"`
}

func (m ConfusionMatrix) Total() int {
	return m.TruePositive + m.FalsePositive + m.TrueNegative + m.FalseNegative
}

// VetoMetrics 是对否决机制有效性的汇总评分，分母为 0 时各项取 0。
type VetoMetrics struct {
	Matrix    ConfusionMatrix `json:"matrix"`
	Precision float64         `json:"precision"`
	Recall    float64         `json:"recall"`
	Accuracy  float64         `json:"accuracy"`
	F1        float64         `json:"f1"`
	VetoRate  float64         `json:"veto_rate"`
}

// ThresholdBucket 记录某个阈值档位下的样本数与判定正确数。
type ThresholdBucket struct {
	Samples int `json:"samples"`
	Correct int `json:"correct"`
}

func (b ThresholdBucket) accuracy() float64 {
	if b.Samples == 0 {
		return 0
	}
	return float64(b.Correct) / float64(b.Samples)
}

// VetoTracker 按混淆矩阵评估否决机制，并给出历史最优阈值建议。
type VetoTracker struct {
	mu          sync.Mutex
	matrix      ConfusionMatrix
	bySource    map[string]ConfusionMatrix
	byThreshold map[string]ThresholdBucket

	defaultThreshold float64
	minSamples       int
}

func NewVetoTracker() *VetoTracker {
	return &VetoTracker{
		bySource:         make(map[string]ConfusionMatrix),
		byThreshold:      make(map[string]ThresholdBucket),
		defaultThreshold: 0.7,
		minSamples:       5,
	}
}

// SetRecommendationPolicy 调整阈值推荐的保守默认值与最小样本数。
func (t *VetoTracker) SetRecommendationPolicy(defaultThreshold float64, minSamples int) {
	t.mu.Lock()
	if defaultThreshold > 0 && defaultThreshold <= 1 {
		t.defaultThreshold = defaultThreshold
	}
	if minSamples > 0 {
		t.minSamples = minSamples
	}
	t.mu.Unlock()
}

func thresholdKey(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// Evaluate 把一条已结算记录归入恰好一个矩阵格子，并更新来源/阈值分项。
// 未结算记录不做任何事。
func (t *VetoTracker) Evaluate(o *TradeOutcome) {
	if !o.Completed() {
		return
	}
	vetoed := o.VetoApplied
	won := o.Won()

	t.mu.Lock()
	defer t.mu.Unlock()
	bump := func(m *ConfusionMatrix) {
		switch {
		case vetoed && !won:
			m.TruePositive++
		case vetoed && won:
			m.FalsePositive++
		case !vetoed && won:
			m.TrueNegative++
		default:
			m.FalseNegative++
		}
	}
	bump(&t.matrix)
	if vetoed {
		source := o.VetoSource
		if source == "" {
			source = "unknown"
		}
		sm := t.bySource[source]
		bump(&sm)
		t.bySource[source] = sm
	}
	if o.VetoThreshold > 0 {
		key := thresholdKey(o.VetoThreshold)
		bucket := t.byThreshold[key]
		bucket.Samples++
		// 该档位下否决判断与实际结果一致即算正确
		if (vetoed && !won) || (!vetoed && won) {
			bucket.Correct++
		}
		t.byThreshold[key] = bucket
	}
}

// Metrics 返回当前的否决有效性评分。
func (t *VetoTracker) Metrics() VetoMetrics {
	t.mu.Lock()
	m := t.matrix
	t.mu.Unlock()
	return computeVetoMetrics(m)
}

func computeVetoMetrics(m ConfusionMatrix) VetoMetrics {
	out := VetoMetrics{Matrix: m}
	if denom := m.TruePositive + m.FalsePositive; denom > 0 {
		out.Precision = float64(m.TruePositive) / float64(denom)
	}
	if denom := m.TruePositive + m.FalseNegative; denom > 0 {
		out.Recall = float64(m.TruePositive) / float64(denom)
	}
	if total := m.Total(); total > 0 {
		out.Accuracy = float64(m.TruePositive+m.TrueNegative) / float64(total)
		out.VetoRate = float64(m.TruePositive+m.FalsePositive) / float64(total)
	}
	if out.Precision+out.Recall > 0 {
		out.F1 = 2 * out.Precision * out.Recall / (out.Precision + out.Recall)
	}
	return out
}

// MetricsBySource 返回各否决来源的矩阵与评分。
func (t *VetoTracker) MetricsBySource() map[string]VetoMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]VetoMetrics, len(t.bySource))
	for source, m := range t.bySource {
		out[source] = computeVetoMetrics(m)
	}
	return out
}

// RecommendThreshold 返回样本数达到下限的档位中历史准确率最高的阈值；
// 没有达标档位时返回保守默认值。平手时取更高（更保守）的阈值。
func (t *VetoTracker) RecommendThreshold() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	best := -1.0
	bestAcc := -1.0
	for key, bucket := range t.byThreshold {
		if bucket.Samples < t.minSamples {
			continue
		}
		var v float64
		if _, err := fmt.Sscanf(key, "%f", &v); err != nil {
			continue
		}
		acc := bucket.accuracy()
		if acc > bestAcc || (acc == bestAcc && v > best) {
			best = v
			bestAcc = acc
		}
	}
	if best < 0 {
		return t.defaultThreshold
	}
	return best
}

// VetoState 是 tracker 的可序列化状态，供持久化与检查点使用。
type VetoState struct {
	Matrix      ConfusionMatrix            `json:"matrix"`
	BySource    map[string]ConfusionMatrix `json:"by_source,omitempty"`
	ByThreshold map[string]ThresholdBucket `json:"by_threshold,omitempty"`
}

func (t *VetoTracker) Export() VetoState {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := VetoState{Matrix: t.matrix}
	if len(t.bySource) > 0 {
		state.BySource = make(map[string]ConfusionMatrix, len(t.bySource))
		for k, v := range t.bySource {
			state.BySource[k] = v
		}
	}
	if len(t.byThreshold) > 0 {
		state.ByThreshold = make(map[string]ThresholdBucket, len(t.byThreshold))
		for k, v := range t.byThreshold {
			state.ByThreshold[k] = v
		}
	}
	return state
}

func (t *VetoTracker) Restore(state VetoState) {
	t.mu.Lock()
	t.matrix = state.Matrix
	t.bySource = make(map[string]ConfusionMatrix)
	for k, v := range state.BySource {
		t.bySource[k] = v
	}
	t.byThreshold = make(map[string]ThresholdBucket)
	for k, v := range state.ByThreshold {
		t.byThreshold[k] = v
	}
	t.mu.Unlock()
}

func (t *VetoTracker) Clear() {
	t.mu.Lock()
	t.matrix = ConfusionMatrix{}
	t.bySource = make(map[string]ConfusionMatrix)
	t.byThreshold = make(map[string]ThresholdBucket)
	t.mu.Unlock()
}
