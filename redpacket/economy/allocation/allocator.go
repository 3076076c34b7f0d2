package allocation

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/ellavondegurechaff/redpacket/redpacket/config"
)

// ErrInvalidParameters is returned when the total cannot cover count shares of
// at least the minimum amount.
var ErrInvalidParameters = errors.New("invalid allocation parameters")

const (
	StrategyDoubleAverage = "double_average"
	StrategyRandom        = "random"
	StrategyEven          = "even"
)

// Rand is the subset of *rand.Rand the strategies draw from.
type Rand interface {
	Int64N(n int64) int64
	Shuffle(n int, swap func(i, j int))
}

// Strategy splits total into count amounts. Callers go through Allocate, which
// has already checked that total >= count*minAmount.
type Strategy interface {
	Name() string
	Split(rng Rand, total int64, count int, minAmount int64) []int64
}

var strategies = map[string]Strategy{
	StrategyDoubleAverage: DoubleAverage{},
	StrategyRandom:        RandomPartition{},
	StrategyEven:          EvenSplit{},
}

// Lookup resolves a strategy by name. Unknown names fall back to double-average.
func Lookup(name string) Strategy {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return DoubleAverage{}
	}
	if s, ok := strategies[key]; ok {
		return s
	}
	slog.Warn("Unknown allocation strategy, using double_average",
		slog.String("type", "sys"),
		slog.String("strategy", name))
	return DoubleAverage{}
}

// Known reports whether name maps to a registered strategy.
func Known(name string) bool {
	_, ok := strategies[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

type globalRand struct{}

func (globalRand) Int64N(n int64) int64               { return rand.Int64N(n) }
func (globalRand) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

// Allocate splits totalAmount into count shares using the process-wide random source.
func Allocate(totalAmount int64, count int, minAmount int64, strategy Strategy) ([]int64, error) {
	return AllocateWith(globalRand{}, totalAmount, count, minAmount, strategy)
}

// AllocateWith is Allocate with an explicit random source. The result always
// has count entries, sums to totalAmount and every entry is >= minAmount.
func AllocateWith(rng Rand, totalAmount int64, count int, minAmount int64, strategy Strategy) ([]int64, error) {
	if err := validate(totalAmount, count, minAmount); err != nil {
		return nil, err
	}
	if strategy == nil {
		strategy = DoubleAverage{}
	}

	amounts := strategy.Split(rng, totalAmount, count, minAmount)
	if err := verify(amounts, totalAmount, count, minAmount); err != nil {
		return nil, fmt.Errorf("strategy %s: %w", strategy.Name(), err)
	}
	return amounts, nil
}

func validate(totalAmount int64, count int, minAmount int64) error {
	switch {
	case count <= 0:
		return fmt.Errorf("%w: count must be positive, got %d", ErrInvalidParameters, count)
	case count > config.MaxShareCount:
		return fmt.Errorf("%w: count %d exceeds the limit of %d", ErrInvalidParameters, count, config.MaxShareCount)
	case minAmount <= 0:
		return fmt.Errorf("%w: minimum amount must be positive, got %d", ErrInvalidParameters, minAmount)
	case totalAmount <= 0:
		return fmt.Errorf("%w: total amount must be positive, got %d", ErrInvalidParameters, totalAmount)
	case totalAmount > math.MaxInt64/2:
		return fmt.Errorf("%w: total amount %d is too large", ErrInvalidParameters, totalAmount)
	case totalAmount/int64(count) < minAmount:
		return fmt.Errorf("%w: total %d cannot cover %d shares of at least %d",
			ErrInvalidParameters, totalAmount, count, minAmount)
	}
	return nil
}

func verify(amounts []int64, totalAmount int64, count int, minAmount int64) error {
	if len(amounts) != count {
		return fmt.Errorf("produced %d shares, want %d", len(amounts), count)
	}
	var sum int64
	for i, a := range amounts {
		if a < minAmount {
			return fmt.Errorf("share %d amount %d is below minimum %d", i+1, a, minAmount)
		}
		sum += a
	}
	if sum != totalAmount {
		return fmt.Errorf("shares sum to %d, want %d", sum, totalAmount)
	}
	return nil
}
