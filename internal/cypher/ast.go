// Package cypher implements the read-only Cypher subset that the embedded
// graph backends answer executeQuery with:
//
//	MATCH (a:Label {k: "v"})-[r:T1|T2*1..3]->(b)
//	WHERE a.name = $name AND b.inferred = true
//	RETURN DISTINCT a.name AS name, COUNT(b) ORDER BY name DESC LIMIT 10
package cypher

// Query represents a parsed Cypher query.
type Query struct {
	Match  *MatchClause
	Where  *WhereClause
	Return *ReturnClause
}

// MatchClause holds the MATCH pattern.
type MatchClause struct {
	Pattern *Pattern
}

// Pattern is a sequence of alternating nodes and relationships.
type Pattern struct {
	Elements []PatternElement
}

// PatternElement is either a NodePattern or a RelPattern.
type PatternElement interface {
	patternElement()
}

// Value is a literal or a $parameter reference.
type Value struct {
	Literal any
	Param   string
}

// NodePattern matches a graph node with optional label and inline properties.
type NodePattern struct {
	Variable string
	Label    string
	Props    map[string]Value
}

func (*NodePattern) patternElement() {}

// Direction of a relationship pattern.
type Direction string

const (
	Outbound Direction = "outbound"
	Inbound  Direction = "inbound"
	Any      Direction = "any"
)

// RelPattern matches a graph relationship with optional types, direction, and hops.
type RelPattern struct {
	Variable  string
	Types     []string
	Direction Direction
	MinHops   int
	MaxHops   int // 0 means unbounded
}

func (*RelPattern) patternElement() {}

// WhereClause holds filter conditions joined by AND/OR.
type WhereClause struct {
	Conditions []Condition
	Operator   string // "AND" or "OR"
}

// Condition is a single property comparison.
type Condition struct {
	Variable string
	Property string
	Operator string // "=", "<>", "=~", "CONTAINS", "STARTS WITH", ">", "<", ">=", "<="
	Negate   bool
	Value    Value
}

// ReturnClause specifies which data to return from the query.
type ReturnClause struct {
	Items    []ReturnItem
	OrderBy  string
	OrderDir string // "ASC" or "DESC"
	Limit    int    // 0 means no limit
	Distinct bool
}

// ReturnItem is a single item in the RETURN clause.
type ReturnItem struct {
	Variable string
	Property string // empty returns the whole node or relationship
	Alias    string
	Func     string // "COUNT"
}

// Column returns the output column name of the item.
func (i ReturnItem) Column() string {
	if i.Alias != "" {
		return i.Alias
	}
	if i.Func != "" {
		return i.Func + "(" + i.Variable + ")"
	}
	if i.Property != "" {
		return i.Variable + "." + i.Property
	}
	return i.Variable
}
