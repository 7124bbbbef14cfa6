package combat

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
)

// DiceRoll is parsed notation NdM[+|-K].
type DiceRoll struct {
	Count    int
	Sides    int
	Modifier int
}

var diceRe = regexp.MustCompile(`^(\d*)d(\d+)([+-]\d+)?$`)

// ParseDice parses "2d6+3" style notation; count defaults to 1 when absent.
func ParseDice(notation string) (DiceRoll, error) {
	m := diceRe.FindStringSubmatch(notation)
	if m == nil {
		return DiceRoll{}, fmt.Errorf("invalid dice notation: %q", notation)
	}
	count := 1
	if m[1] != "" {
		c, err := strconv.Atoi(m[1])
		if err != nil {
			return DiceRoll{}, err
		}
		count = c
	}
	sides, err := strconv.Atoi(m[2])
	if err != nil {
		return DiceRoll{}, err
	}
	modifier := 0
	if m[3] != "" {
		mod, err := strconv.Atoi(m[3])
		if err != nil {
			return DiceRoll{}, err
		}
		modifier = mod
	}
	return DiceRoll{Count: count, Sides: sides, Modifier: modifier}, nil
}

func (d DiceRoll) Min() int { return d.Count + d.Modifier }
func (d DiceRoll) Max() int { return d.Count*d.Sides + d.Modifier }

// Roll draws Count uniform integers in [1, Sides], sums, and adds Modifier.
func (d DiceRoll) Roll(rng *rand.Rand) int {
	total := d.Modifier
	for i := 0; i < d.Count; i++ {
		total += 1 + rng.IntN(d.Sides)
	}
	return total
}

func RollD20(rng *rand.Rand) int { return 1 + rng.IntN(20) }

func IsCritical(r int) bool { return r == 20 }
func IsFumble(r int) bool   { return r == 1 }
