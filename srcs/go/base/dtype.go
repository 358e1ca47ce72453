package base

import "errors"

// DataType identifies the element type carried in data packets.
type DataType uint8

const (
	I32 DataType = 1
)

const DefaultDataType = I32

func (t DataType) Size() int {
	switch t {
	case I32:
		return 4
	default:
		return 0
	}
}

var dtypeNames = map[DataType]string{
	I32: `INT32`,
}

func (t DataType) String() string {
	return dtypeNames[t]
}

// Set implements flag.Value::Set
func (t *DataType) Set(val string) error {
	value, err := ParseDataType(val)
	if err != nil {
		return err
	}
	*t = *value
	return nil
}

var errInvalidDataType = errors.New("invalid data type")

func ParseDataType(s string) (*DataType, error) {
	for k, v := range dtypeNames {
		if s == v {
			return &k, nil
		}
	}
	return nil, errInvalidDataType
}
