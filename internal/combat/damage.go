package combat

// DamageType is the closed set of damage kinds.
type DamageType string

const (
	Physical   DamageType = "physical"
	Slashing   DamageType = "slashing"
	Piercing   DamageType = "piercing"
	Bludgeoning DamageType = "bludgeoning"
	Fire       DamageType = "fire"
	Cold       DamageType = "cold"
	Lightning  DamageType = "lightning"
	Acid       DamageType = "acid"
	Poison     DamageType = "poison"
	Necrotic   DamageType = "necrotic"
	Radiant    DamageType = "radiant"
	Psychic    DamageType = "psychic"
	Force      DamageType = "force"
	Thunder    DamageType = "thunder"
)

// Modifier scales incoming damage of a given type.
type Modifier int

const (
	Normal Modifier = iota
	Immune
	Resistant
	Vulnerable
)

// Apply scales x per the modifier: Immune*0, Resistant*0.5 (floored),
// Normal*1, Vulnerable*2.
func (m Modifier) Apply(x int) int {
	switch m {
	case Immune:
		return 0
	case Resistant:
		return x / 2
	case Vulnerable:
		return x * 2
	default:
		return x
	}
}

// Profile is a sparse map from damage type to modifier; missing entries are
// Normal.
type Profile map[DamageType]Modifier

func (p Profile) modifierFor(t DamageType) Modifier {
	if p == nil {
		return Normal
	}
	if m, ok := p[t]; ok {
		return m
	}
	return Normal
}

// Result is the outcome of applying damage to an entity's hit points.
type Result struct {
	Base     int
	Final    int
	Type     DamageType
	Modifier Modifier
	Critical bool
}

// ApplyDamage doubles base damage on a critical before scaling by profile,
// matching the teacher's calc-then-apply pattern used for melee/ranged
// attack resolution in the scripting bridge.
func ApplyDamage(profile Profile, amount int, t DamageType, critical bool) Result {
	base := amount
	if critical {
		base *= 2
	}
	mod := profile.modifierFor(t)
	return Result{
		Base:     base,
		Final:    mod.Apply(base),
		Type:     t,
		Modifier: mod,
		Critical: critical,
	}
}
