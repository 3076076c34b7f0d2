package allocation

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allStrategies() []Strategy {
	return []Strategy{DoubleAverage{}, RandomPartition{}, EvenSplit{}}
}

func sum(amounts []int64) int64 {
	var total int64
	for _, a := range amounts {
		total += a
	}
	return total
}

func TestAllocateProperties(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))

	for _, strategy := range allStrategies() {
		t.Run(strategy.Name(), func(t *testing.T) {
			for i := 0; i < 2000; i++ {
				count := 1 + rng.IntN(200)
				minAmount := 1 + rng.Int64N(50)
				total := int64(count)*minAmount + rng.Int64N(100000)

				amounts, err := AllocateWith(rng, total, count, minAmount, strategy)
				require.NoError(t, err)
				require.Len(t, amounts, count)
				require.Equal(t, total, sum(amounts))
				for _, a := range amounts {
					require.GreaterOrEqual(t, a, minAmount)
				}
			}
		})
	}
}

func TestAllocateEdgeCases(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for _, strategy := range allStrategies() {
		t.Run(strategy.Name()+"/single share", func(t *testing.T) {
			amounts, err := AllocateWith(rng, 1000, 1, 1, strategy)
			require.NoError(t, err)
			assert.Equal(t, []int64{1000}, amounts)
		})

		t.Run(strategy.Name()+"/exact floor", func(t *testing.T) {
			amounts, err := AllocateWith(rng, 50, 10, 5, strategy)
			require.NoError(t, err)
			for _, a := range amounts {
				assert.Equal(t, int64(5), a)
			}
		})
	}
}

func TestAllocateInvalidParameters(t *testing.T) {
	tests := []struct {
		name      string
		total     int64
		count     int
		minAmount int64
	}{
		{"total below floor", 9, 10, 1},
		{"zero count", 100, 0, 1},
		{"zero minimum", 100, 10, 0},
		{"negative total", -5, 1, 1},
		{"floor just missed", 99, 10, 10},
		{"count over limit", 1 << 40, 10001, 1},
		{"huge count", 1 << 61, 1 << 59, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Allocate(tt.total, tt.count, tt.minAmount, DoubleAverage{})
			assert.ErrorIs(t, err, ErrInvalidParameters)
		})
	}
}

func TestDoubleAverageBound(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 9))

	for i := 0; i < 500; i++ {
		amounts := DoubleAverage{}.Split(rng, 1000, 10, 1)
		remaining := int64(1000)
		for j, a := range amounts[:len(amounts)-1] {
			k := int64(len(amounts) - j)
			assert.LessOrEqual(t, a, 2*remaining/k)
			remaining -= a
		}
	}
}

func TestEvenSplitSpread(t *testing.T) {
	amounts, err := AllocateWith(rand.New(rand.NewPCG(3, 4)), 103, 10, 1, EvenSplit{})
	require.NoError(t, err)

	var high int
	for _, a := range amounts {
		require.Contains(t, []int64{10, 11}, a)
		if a == 11 {
			high++
		}
	}
	assert.Equal(t, 3, high)
}

func TestLookup(t *testing.T) {
	assert.Equal(t, StrategyDoubleAverage, Lookup("").Name())
	assert.Equal(t, StrategyRandom, Lookup("Random").Name())
	assert.Equal(t, StrategyEven, Lookup(" even ").Name())
	assert.Equal(t, StrategyDoubleAverage, Lookup("fibonacci").Name())
	assert.True(t, Known("double_average"))
	assert.False(t, Known("fibonacci"))
}
