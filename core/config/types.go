// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package config

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tessella-io/facet/core"
)

// UnmarshalJSON accepts the key in three shapes: a single attribute name,
// a list of names (multi-alternative key, one group per name), or a list
// of groups (composite keys).
func (k *Key) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*k = Key{{s}}
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Key, 0, len(raw))
	for _, entry := range raw {
		if len(entry) > 0 && entry[0] == '"' {
			var s string
			if err := json.Unmarshal(entry, &s); err != nil {
				return err
			}
			out = append(out, []string{s})
			continue
		}
		var group []string
		if err := json.Unmarshal(entry, &group); err != nil {
			return err
		}
		out = append(out, group)
	}
	*k = out
	return nil
}

// MarshalJSON encodes the key in its canonical group form.
func (k Key) MarshalJSON() ([]byte, error) {
	return json.Marshal([][]string(k))
}

// UnmarshalJSON accepts a boolean (true allows both directions), a single
// direction string, or a list of directions.
func (o *OrderSpec) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		if b {
			o.Allowed = []core.Direction{core.DirectionAsc, core.DirectionDesc}
		} else {
			o.Allowed = nil
		}
		return nil
	case '"':
		var d core.Direction
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		o.Allowed = []core.Direction{d}
		return nil
	case '[':
		return json.Unmarshal(data, &o.Allowed)
	}
	return fmt.Errorf("invalid order specification %s", string(data))
}

// MarshalJSON encodes the order specification in its list form.
func (o OrderSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Allowed)
}
