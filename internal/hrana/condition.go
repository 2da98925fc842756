package hrana

import (
	"encoding/json"
	"fmt"

	"github.com/libsqlgo/sqld/internal/program"
	"github.com/libsqlgo/sqld/internal/sqlderr"
)

// conditionJSON mirrors program.Cond's closed sum type on the wire,
// discriminated by "type": ok/err carry a step index, not/and/or carry
// one or more nested conditions.
type conditionJSON struct {
	Type  string            `json:"type"`
	Step  int               `json:"step,omitempty"`
	Cond  json.RawMessage   `json:"cond,omitempty"`
	Conds []json.RawMessage `json:"conds,omitempty"`
}

// decodeCondition parses the wire condition tree into a program.Cond.
func decodeCondition(data json.RawMessage) (program.Cond, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var c conditionJSON
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, sqlderr.Wrap(sqlderr.CodeInvalidParams, err, "malformed condition")
	}
	switch c.Type {
	case "ok":
		return program.Ok(c.Step), nil
	case "err":
		return program.Err(c.Step), nil
	case "not":
		inner, err := decodeCondition(c.Cond)
		if err != nil {
			return nil, err
		}
		return program.Not(inner), nil
	case "and":
		conds, err := decodeConditions(c.Conds)
		if err != nil {
			return nil, err
		}
		return program.And(conds...), nil
	case "or":
		conds, err := decodeConditions(c.Conds)
		if err != nil {
			return nil, err
		}
		return program.Or(conds...), nil
	default:
		return nil, sqlderr.New(sqlderr.CodeInvalidParams, fmt.Sprintf("unknown condition type %q", c.Type))
	}
}

func decodeConditions(raw []json.RawMessage) ([]program.Cond, error) {
	conds := make([]program.Cond, len(raw))
	for i, r := range raw {
		c, err := decodeCondition(r)
		if err != nil {
			return nil, err
		}
		conds[i] = c
	}
	return conds, nil
}
