package base

// Accumulate combines one arriving value v into the running slot value acc.
// degree is the number of values already combined into acc.
// CUSTOM has no defined combiner and falls through to SUM.
func Accumulate(acc, v int32, degree uint16, op OP) int32 {
	switch op {
	case MIN:
		if degree == 0 || v < acc {
			return v
		}
		return acc
	case MAX:
		if degree == 0 || v > acc {
			return v
		}
		return acc
	case PRODUCT:
		if degree == 0 {
			return v
		}
		return acc * v
	default:
		return acc + v
	}
}

// Finalize produces the committed value once fanIn values have been combined.
func Finalize(acc int32, fanIn uint16, op OP) int32 {
	if op == AVERAGE && fanIn > 0 {
		return acc / int32(fanIn)
	}
	return acc
}
