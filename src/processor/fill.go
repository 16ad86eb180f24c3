package processor

import "math"

// FillGaps 按位置线性插值内部缺口，再向后填充尾部、向前填充头部。
// 全部缺失的行原样返回，返回值false表示该行无可用值。
func FillGaps(values []float64) ([]float64, bool) {
	out := append([]float64(nil), values...)

	first, last := -1, -1
	for i, v := range out {
		if !math.IsNaN(v) {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return out, false
	}

	interpolate(out, first, last)

	for i := last + 1; i < len(out); i++ {
		out[i] = out[last]
	}
	for i := 0; i < first; i++ {
		out[i] = out[first]
	}
	return out, true
}

// interpolate 填充[first, last]之间的缺口，两端必须已知
func interpolate(v []float64, first, last int) {
	prev := first
	for i := first + 1; i <= last; i++ {
		if math.IsNaN(v[i]) {
			continue
		}
		if gap := i - prev; gap > 1 {
			step := (v[i] - v[prev]) / float64(gap)
			for k := prev + 1; k < i; k++ {
				v[k] = v[prev] + step*float64(k-prev)
			}
		}
		prev = i
	}
}

// missingCount 缺失值个数
func missingCount(values []float64) int {
	n := 0
	for _, v := range values {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}
