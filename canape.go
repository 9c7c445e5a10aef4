package phylotree

import "math"

// CANAPECode is the categorical analysis of neo- and palaeo-endemism
// classification of a node, derived from its significance ranks.
type CANAPECode int

const (
	// CANAPEUndefined marks nodes whose observed phylogenetic-endemism
	// rank is undefined; derived flags are cleared, not zeroed.
	CANAPEUndefined CANAPECode = -1

	CANAPENotSignificant CANAPECode = 0
	CANAPENeo            CANAPECode = 1
	CANAPEPalaeo         CANAPECode = 2
	CANAPEMixed          CANAPECode = 3
	CANAPESuper          CANAPECode = 4
)

// String returns the conventional CANAPE label.
func (c CANAPECode) String() string {
	switch c {
	case CANAPENotSignificant:
		return "not significant"
	case CANAPENeo:
		return "neo"
	case CANAPEPalaeo:
		return "palaeo"
	case CANAPEMixed:
		return "mixed"
	case CANAPESuper:
		return "super"
	default:
		return "undefined"
	}
}

// ClassifyCANAPE turns three percentile-rank inputs into an endemism
// category: peObs is the observed phylogenetic-endemism significance rank,
// peAlt the alternate null-model rank, and rpe the relative
// phylogenetic-endemism rank. A NaN peObs yields CANAPEUndefined.
//
// The thresholds are fixed: 0.95 two-sided significance on PE, 0.025/0.975
// tails on RPE for neo/palaeo, and 0.99 or above on both PE ranks for
// super-endemism.
func ClassifyCANAPE(peObs, peAlt, rpe float64) CANAPECode {
	if math.IsNaN(peObs) {
		return CANAPEUndefined
	}
	switch {
	case peObs <= 0.95 && peAlt <= 0.95:
		return CANAPENotSignificant
	case rpe < 0.025:
		return CANAPENeo
	case rpe > 0.975:
		return CANAPEPalaeo
	case peObs >= 0.99 && peAlt >= 0.99:
		return CANAPESuper
	default:
		return CANAPEMixed
	}
}

// CANAPEFlags are the boolean views of a CANAPE code. All flags are false
// for CANAPEUndefined and CANAPENotSignificant.
type CANAPEFlags struct {
	Neo    bool
	Palaeo bool
	Mixed  bool
	Super  bool
}

// FlagsForCANAPE expands a code into its boolean flags.
func FlagsForCANAPE(code CANAPECode) CANAPEFlags {
	switch code {
	case CANAPENeo:
		return CANAPEFlags{Neo: true}
	case CANAPEPalaeo:
		return CANAPEFlags{Palaeo: true}
	case CANAPEMixed:
		return CANAPEFlags{Mixed: true}
	case CANAPESuper:
		return CANAPEFlags{Super: true}
	default:
		return CANAPEFlags{}
	}
}
