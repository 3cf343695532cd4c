package projection

import (
	"math"
	"slices"
	"strconv"

	"github.com/roach88/boardreplica/internal/block"
)

// Calculation functions available in a view's columnCalculations.
const (
	CalcCount            = "count"
	CalcCountValue       = "countValue"
	CalcCountUniqueValue = "countUniqueValue"
	CalcSum              = "sum"
	CalcAverage          = "average"
	CalcMedian           = "median"
	CalcMin              = "min"
	CalcMax              = "max"
	CalcRange            = "range"
)

// calculate evaluates every property -> function entry of calcs over cards.
// Unknown properties and functions are skipped. Values that do not parse as
// numbers are ignored by the numeric functions.
func calculate(cards []block.Block, calcs map[string]string, props properties) map[string]string {
	if len(calcs) == 0 {
		return nil
	}
	out := make(map[string]string, len(calcs))
	for propID, fn := range calcs {
		t, ok := props.lookup(propID)
		if !ok {
			continue
		}
		if r, ok := calculateOne(cards, t, fn, props); ok {
			out[propID] = r
		}
	}
	return out
}

func calculateOne(cards []block.Block, t block.PropertyTemplate, fn string, props properties) (string, bool) {
	switch fn {
	case CalcCount:
		return strconv.Itoa(len(cards)), true
	case CalcCountValue:
		n := 0
		for _, c := range cards {
			v := props.value(c, t.ID)
			if v.IsEmpty() {
				continue
			}
			if t.Type == block.PropertyMultiSelect {
				n += len(v.Strings())
			} else {
				n++
			}
		}
		return strconv.Itoa(n), true
	case CalcCountUniqueValue:
		seen := map[string]struct{}{}
		for _, c := range cards {
			for _, s := range props.value(c, t.ID).Strings() {
				seen[s] = struct{}{}
			}
		}
		return strconv.Itoa(len(seen)), true
	case CalcSum:
		var sum float64
		for _, f := range numbers(cards, t.ID, props) {
			sum += f
		}
		return formatNumber(sum), true
	case CalcAverage:
		nums := numbers(cards, t.ID, props)
		if len(nums) == 0 {
			return "0", true
		}
		var sum float64
		for _, f := range nums {
			sum += f
		}
		return formatNumber(sum / float64(len(nums))), true
	case CalcMedian:
		nums := numbers(cards, t.ID, props)
		if len(nums) == 0 {
			return "0", true
		}
		slices.Sort(nums)
		mid := len(nums) / 2
		if len(nums)%2 == 0 {
			return formatNumber((nums[mid-1] + nums[mid]) / 2), true
		}
		return formatNumber(nums[mid]), true
	case CalcMin:
		return extreme(cards, t.ID, props, math.Min), true
	case CalcMax:
		return extreme(cards, t.ID, props, math.Max), true
	case CalcRange:
		return extreme(cards, t.ID, props, math.Min) + " - " + extreme(cards, t.ID, props, math.Max), true
	}
	return "", false
}

func numbers(cards []block.Block, propID string, props properties) []float64 {
	var out []float64
	for _, c := range cards {
		v := props.value(c, propID)
		if v.IsEmpty() {
			continue
		}
		strs := v.Strings()
		f, err := strconv.ParseFloat(strs[0], 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func extreme(cards []block.Block, propID string, props properties, pick func(a, b float64) float64) string {
	nums := numbers(cards, propID, props)
	if len(nums) == 0 {
		return "0"
	}
	r := nums[0]
	for _, f := range nums[1:] {
		r = pick(r, f)
	}
	return formatNumber(r)
}

// formatNumber rounds to two decimals and drops trailing zeros.
func formatNumber(f float64) string {
	r := math.Round(f*100) / 100
	if r == 0 {
		r = 0
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}
