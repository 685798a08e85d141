package cmd

import (
	"fmt"
	"slices"
)

// FlagEnum is a pflag.Value restricted to a fixed set of strings.
type FlagEnum struct {
	Allowed []string
	Value   string
}

func NewEnum(allowed []string, def string) *FlagEnum {
	return &FlagEnum{Allowed: allowed, Value: def}
}

func (e FlagEnum) String() string {
	return e.Value
}

func (e *FlagEnum) Set(v string) error {
	if !slices.Contains(e.Allowed, v) {
		return fmt.Errorf("invalid value %q, must be one of %v", v, e.Allowed)
	}
	e.Value = v
	return nil
}

func (e *FlagEnum) Type() string {
	return "string"
}
