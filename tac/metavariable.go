package tac

import (
	"fmt"
	"strconv"
	"strings"
)

// MetaVariable is a distinguished Variable standing in for "whatever the
// caller's stack held at depth Payload below its pre-call top" (spec.md
// §3). It always has Top value; its identity is the (name, payload) pair.
type MetaVariable struct {
	Variable
	Payload int
}

// NewMetaVariable returns a MetaVariable named "S<n>" with payload n.
func NewMetaVariable(n int) MetaVariable {
	name := fmt.Sprintf("S%d", n)
	return MetaVariable{
		Variable: TopVariable(name),
		Payload:  n,
	}
}

// AsMetaVariable recovers the MetaVariable identity of v, if it has one: an
// unconstrained value under the synthetic "S<n>" name. Variables lose their
// concrete Go type when they pass through a VariableStack, so the identity
// is carried in the name instead.
func AsMetaVariable(v Variable) (MetaVariable, bool) {
	if !v.IsTop() || !strings.HasPrefix(v.name, "S") {
		return MetaVariable{}, false
	}
	n, err := strconv.Atoi(v.name[1:])
	if err != nil || n < 0 {
		return MetaVariable{}, false
	}
	return MetaVariable{Variable: v, Payload: n}, true
}

// String renders just the identifier.
func (m MetaVariable) String() string { return m.Variable.Name() }
