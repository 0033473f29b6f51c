package models

import (
	"encoding/json"
	"fmt"
)

// Query is a half-open interval [Lower, Upper) over an integer domain.
type Query struct {
	Lower int `json:"lower"`
	Upper int `json:"upper"`
}

// Width returns the number of domain points the interval covers.
func (q Query) Width() int {
	if q.Upper < q.Lower {
		return 0
	}
	return q.Upper - q.Lower
}

// Contains reports whether x lies in [Lower, Upper).
func (q Query) Contains(x int) bool {
	return x >= q.Lower && x < q.Upper
}

func (q Query) String() string {
	return fmt.Sprintf("[%d,%d)", q.Lower, q.Upper)
}

// UnmarshalJSON accepts both {"lower":a,"upper":b} and the compact [a,b] form.
func (q *Query) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("query must have exactly two bounds, got %d", len(pair))
		}
		q.Lower, q.Upper = pair[0], pair[1]
		return nil
	}

	type plain Query
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*q = Query(p)
	return nil
}
