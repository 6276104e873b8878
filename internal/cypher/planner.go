package cypher

import "fmt"

// Plan is the execution plan of a parsed query.
type Plan struct {
	Steps      []PlanStep
	ReturnSpec *ReturnClause
}

// PlanStep is a single step in the execution plan.
type PlanStep interface {
	stepType() string
}

// ScanNodes binds nodes matching a label and inline property filters.
type ScanNodes struct {
	Variable string
	Label    string
	Props    map[string]Value
}

func (*ScanNodes) stepType() string { return "scan" }

// ExpandRelationship follows relationships from a bound node to a target node.
type ExpandRelationship struct {
	FromVar   string
	ToVar     string
	RelVar    string
	ToLabel   string
	ToProps   map[string]Value
	RelTypes  []string
	Direction Direction
	MinHops   int
	MaxHops   int
}

func (*ExpandRelationship) stepType() string { return "expand" }

// FilterWhere applies WHERE conditions to the bindings.
type FilterWhere struct {
	Conditions []Condition
	Operator   string
}

func (*FilterWhere) stepType() string { return "filter" }

// BuildPlan converts a parsed Query into an execution Plan. Anonymous node
// patterns get synthetic variables so every hop can be bound.
func BuildPlan(q *Query) (*Plan, error) {
	plan := &Plan{ReturnSpec: q.Return}
	elements := q.Match.Pattern.Elements
	if len(elements) == 0 {
		return plan, nil
	}

	vars := make([]string, 0, len(elements))
	for i, el := range elements {
		name := ""
		switch e := el.(type) {
		case *NodePattern:
			name = e.Variable
		case *RelPattern:
			name = e.Variable
		}
		if name == "" {
			name = fmt.Sprintf("_anon%d", i)
		}
		vars = append(vars, name)
	}

	first := elements[0].(*NodePattern)
	plan.Steps = append(plan.Steps, &ScanNodes{Variable: vars[0], Label: first.Label, Props: first.Props})

	// Conditions on the scan variable alone run before any expansion.
	var early, late []Condition
	if q.Where != nil {
		if len(elements) > 1 && q.Where.Operator == "AND" {
			for _, c := range q.Where.Conditions {
				if c.Variable == vars[0] {
					early = append(early, c)
				} else {
					late = append(late, c)
				}
			}
		} else {
			late = q.Where.Conditions
		}
	}
	if len(early) > 0 {
		plan.Steps = append(plan.Steps, &FilterWhere{Conditions: early, Operator: "AND"})
	}

	for i := 1; i+1 < len(elements); i += 2 {
		rel := elements[i].(*RelPattern)
		target := elements[i+1].(*NodePattern)
		plan.Steps = append(plan.Steps, &ExpandRelationship{
			FromVar:   vars[i-1],
			ToVar:     vars[i+1],
			RelVar:    rel.Variable,
			ToLabel:   target.Label,
			ToProps:   target.Props,
			RelTypes:  rel.Types,
			Direction: rel.Direction,
			MinHops:   rel.MinHops,
			MaxHops:   rel.MaxHops,
		})
	}

	if len(late) > 0 {
		plan.Steps = append(plan.Steps, &FilterWhere{Conditions: late, Operator: q.Where.Operator})
	}
	return plan, nil
}
