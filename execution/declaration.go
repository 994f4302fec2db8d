package execution

import (
	"fmt"
	"strconv"
)

// Declaration is a declarative tree: a factory name, its options, and
// its ordered inputs. AddToPlan walks it bottom-up, resolving each
// FactoryName against the global registry and wiring the resulting
// nodes into a plan.
type Declaration struct {
	FactoryName string
	Options     any
	Inputs      []*Declaration
	Label       string
}

// Sequence is sugar for a linear pipeline where each declaration's sole
// input is the one before it. It returns the last declaration, whose
// Inputs chain back through all the others.
func Sequence(decls ...*Declaration) *Declaration {
	if len(decls) == 0 {
		panic("Sequence requires at least one declaration")
	}
	for i := 1; i < len(decls); i++ {
		decls[i].Inputs = []*Declaration{decls[i-1]}
	}
	return decls[len(decls)-1]
}

// AddToPlan walks the declaration tree bottom-up: for each node it
// resolves FactoryName in the registry, constructs the node with the
// already-materialized inputs, assigns its label (user-provided, or an
// auto-label equal to the stringified insertion ordinal over every
// node constructed so far, whether or not that node carried a user
// label), and wires it to its inputs' outputs. Registering the node with
// plan is the factory's job (see Factory). It returns the root node.
func (d *Declaration) AddToPlan(plan *ExecPlan) (ExecNode, error) {
	counter := 0
	return d.addToPlan(plan, &counter)
}

func (d *Declaration) addToPlan(plan *ExecPlan, counter *int) (ExecNode, error) {
	inputs := make([]ExecNode, len(d.Inputs))
	for i, in := range d.Inputs {
		n, err := in.addToPlan(plan, counter)
		if err != nil {
			return nil, err
		}
		inputs[i] = n
	}

	factory, ok := lookupFactory(d.FactoryName)
	if !ok {
		return nil, fmt.Errorf("unknown factory %q: %w", d.FactoryName, ErrNotImplemented)
	}

	label := d.Label
	if label == "" {
		label = strconv.Itoa(*counter)
	}
	*counter++

	node, err := factory(plan, inputs, label, d.Options)
	if err != nil {
		return nil, fmt.Errorf("couldn't construct node %q (factory %q): %w", label, d.FactoryName, err)
	}

	for _, in := range inputs {
		in.AddOutput(node)
	}

	return node, nil
}
