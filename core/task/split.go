package task

import (
	"math/rand"

	"github.com/kat-co/vala"
	"github.com/shopspring/decimal"
)

var (
	chunks = []decimal.Decimal{
		decimal.NewFromInt(5),
		decimal.NewFromInt(10),
		decimal.NewFromInt(15),
		decimal.NewFromInt(20),
		decimal.NewFromInt(25),
	}
	minChunk = chunks[0]
	ten      = decimal.NewFromInt(10)
)

// SplitAmount splits total into task amounts.
// Every amount but the last is picked at random from 5, 10, 15, 20 and 25;
// the last one takes the remainder once it drops under 10.
// The amounts always add up to total.
func SplitAmount(total decimal.Decimal, rng *rand.Rand) []decimal.Decimal {
	vala.BeginValidation().Validate(
		vala.IsNotNil(rng, "rng"),
	).CheckAndPanic()

	if !total.IsPositive() {
		return nil
	}
	if total.LessThanOrEqual(minChunk) {
		return []decimal.Decimal{total}
	}

	var amounts []decimal.Decimal
	remaining := total
	for remaining.IsPositive() {
		if remaining.LessThan(ten) {
			amounts = append(amounts, remaining)
			break
		}
		n := 0
		for n < len(chunks) && chunks[n].LessThanOrEqual(remaining) {
			n++
		}
		pick := chunks[rng.Intn(n)]
		amounts = append(amounts, pick)
		remaining = remaining.Sub(pick)
	}
	return amounts
}
