package allocation

import "slices"

// DoubleAverage draws each share uniformly from [min, 2*remaining/k], capped so
// the shares still to come can always receive the minimum. The last share
// takes the exact remainder.
type DoubleAverage struct{}

func (DoubleAverage) Name() string { return StrategyDoubleAverage }

func (DoubleAverage) Split(rng Rand, total int64, count int, minAmount int64) []int64 {
	amounts := make([]int64, count)
	remaining := total
	for i := 0; i < count-1; i++ {
		k := int64(count - i)
		upper := min(2*remaining/k, remaining-(k-1)*minAmount)
		if upper < minAmount {
			upper = minAmount
		}
		amount := minAmount + rng.Int64N(upper-minAmount+1)
		amounts[i] = amount
		remaining -= amount
	}
	amounts[count-1] = remaining
	return amounts
}

// RandomPartition gives every share the minimum and cuts the surplus at
// count-1 uniformly chosen points.
type RandomPartition struct{}

func (RandomPartition) Name() string { return StrategyRandom }

func (RandomPartition) Split(rng Rand, total int64, count int, minAmount int64) []int64 {
	surplus := total - int64(count)*minAmount

	cuts := make([]int64, count+1)
	cuts[count] = surplus
	for i := 1; i < count; i++ {
		cuts[i] = rng.Int64N(surplus + 1)
	}
	slices.Sort(cuts[1:count])

	amounts := make([]int64, count)
	for i := range amounts {
		amounts[i] = minAmount + cuts[i+1] - cuts[i]
	}
	return amounts
}

// EvenSplit gives every share total/count and scatters the remainder one unit
// at a time over randomly chosen shares.
type EvenSplit struct{}

func (EvenSplit) Name() string { return StrategyEven }

func (EvenSplit) Split(rng Rand, total int64, count int, _ int64) []int64 {
	base := total / int64(count)
	extra := int(total % int64(count))

	amounts := make([]int64, count)
	for i := range amounts {
		amounts[i] = base
		if i < extra {
			amounts[i]++
		}
	}
	rng.Shuffle(count, func(i, j int) {
		amounts[i], amounts[j] = amounts[j], amounts[i]
	})
	return amounts
}
