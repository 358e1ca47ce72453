package base

import "errors"

// OP identifies the reduction applied to payloads of one aggregation group.
type OP uint8

const (
	SUM     OP = 1
	AVERAGE OP = 2
	MIN     OP = 3
	MAX     OP = 4
	PRODUCT OP = 5
	CUSTOM  OP = 6
)

const DefaultOP = SUM

var (
	opNames = map[OP]string{
		SUM:     `SUM`,
		AVERAGE: `AVERAGE`,
		MIN:     `MIN`,
		MAX:     `MAX`,
		PRODUCT: `PRODUCT`,
		CUSTOM:  `CUSTOM`,
	}
)

func OPNames() []string {
	var names []string
	for _, name := range opNames {
		names = append(names, name)
	}
	return names
}

func (o OP) String() string {
	return opNames[o]
}

// Set implements flag.Value::Set
func (o *OP) Set(val string) error {
	value, err := ParseOP(val)
	if err != nil {
		return err
	}
	*o = *value
	return nil
}

var errInvalidOP = errors.New("invalid op")

func ParseOP(s string) (*OP, error) {
	for k, v := range opNames {
		if s == v {
			return &k, nil
		}
	}
	return nil, errInvalidOP
}
