package phasegraph

import (
	"fmt"
	"strings"
)

// Predicate gates an Optional phase on task metadata.
//
// Accepted forms:
//
//	true
//	false
//	has KEY
//	KEY == VALUE
//	KEY != VALUE
type Predicate struct {
	op    string
	key   string
	value string
}

// ParsePredicate parses expr into a Predicate.
func ParsePredicate(expr string) (Predicate, error) {
	expr = strings.TrimSpace(expr)
	switch {
	case expr == "":
		return Predicate{}, fmt.Errorf("empty predicate")
	case expr == "true" || expr == "false":
		return Predicate{op: expr}, nil
	case strings.HasPrefix(expr, "has "):
		key := strings.TrimSpace(strings.TrimPrefix(expr, "has "))
		if key == "" || strings.ContainsAny(key, " =!") {
			return Predicate{}, fmt.Errorf("invalid key in %q", expr)
		}
		return Predicate{op: "has", key: key}, nil
	}

	for _, op := range []string{"==", "!="} {
		if idx := strings.Index(expr, op); idx > 0 {
			key := strings.TrimSpace(expr[:idx])
			value := strings.Trim(strings.TrimSpace(expr[idx+len(op):]), `"'`)
			if key == "" || strings.ContainsAny(key, " =!") {
				return Predicate{}, fmt.Errorf("invalid key in %q", expr)
			}
			return Predicate{op: op, key: key, value: value}, nil
		}
	}
	return Predicate{}, fmt.Errorf("unsupported predicate %q", expr)
}

// Eval evaluates the predicate against metadata.
func (p Predicate) Eval(metadata map[string]string) bool {
	switch p.op {
	case "true":
		return true
	case "has":
		_, ok := metadata[p.key]
		return ok
	case "==":
		v, ok := metadata[p.key]
		return ok && v == p.value
	case "!=":
		return metadata[p.key] != p.value
	}
	return false
}

// String renders the predicate in its source form.
func (p Predicate) String() string {
	switch p.op {
	case "true", "false":
		return p.op
	case "has":
		return "has " + p.key
	}
	return p.key + " " + p.op + " " + p.value
}
