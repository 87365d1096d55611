// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package core

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Operator is a filter comparison operator.
type Operator string

// all supported filter operators
const (
	OperatorEqual          Operator = "equal"
	OperatorNotEqual       Operator = "notEqual"
	OperatorLess           Operator = "less"
	OperatorLessOrEqual    Operator = "lessOrEqual"
	OperatorGreater        Operator = "greater"
	OperatorGreaterOrEqual Operator = "greaterOrEqual"
	OperatorLike           Operator = "like"
	OperatorBetween        Operator = "between"
)

// AllOperators returns all valid filter operators.
func AllOperators() []Operator {
	return []Operator{
		OperatorEqual,
		OperatorNotEqual,
		OperatorLess,
		OperatorLessOrEqual,
		OperatorGreater,
		OperatorGreaterOrEqual,
		OperatorLike,
		OperatorBetween,
	}
}

// IsValid checks if the Operator value is valid
func (o Operator) IsValid() bool {
	switch o {
	case OperatorEqual, OperatorNotEqual, OperatorLess, OperatorLessOrEqual,
		OperatorGreater, OperatorGreaterOrEqual, OperatorLike, OperatorBetween:
		return true
	default:
		return false
	}
}

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operator) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Operator(s)
	if !o.IsValid() {
		return fmt.Errorf("%s is not a valid Operator", s)
	}
	return nil
}

// Direction is a sort direction.
type Direction string

// all supported sort directions
const (
	DirectionAsc  Direction = "asc"
	DirectionDesc Direction = "desc"
)

// IsValid checks if the Direction value is valid
func (d Direction) IsValid() bool {
	return d == DirectionAsc || d == DirectionDesc
}

// UnmarshalJSON is a custom JSON unmarshaller
func (d *Direction) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*d = Direction(s)
	if !d.IsValid() {
		return fmt.Errorf("%s is not a valid Direction", s)
	}
	return nil
}

// engine-wide defaults
const (
	DefaultAction = "retrieve"
	DefaultFormat = "json"

	// DefaultLimit applies to list requests when neither the request nor
	// the resource specifies one.
	DefaultLimit = 10
)

// JoinPath renders an attribute path for error messages and logs.
func JoinPath(path []string) string {
	return strings.Join(path, ".")
}
