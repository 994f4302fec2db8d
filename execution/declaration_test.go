package execution

// P5: auto-labels equal the stringified insertion ordinal over every
// node constructed so far, including positions that carried a
// non-empty user label.

import "testing"

func registerLabelRecorder(t *testing.T) (string, *[]string) {
	t.Helper()
	var labels []string
	name := t.Name()
	Register(name, func(plan *ExecPlan, inputs []ExecNode, label string, options any) (ExecNode, error) {
		n := newTestNode(label, inputs, 1)
		labels = append(labels, label)
		plan.Add(n)
		return n, nil
	})
	return name, &labels
}

func TestAutoLabelCountsEveryInsertedNode(t *testing.T) {
	factoryName, labels := registerLabelRecorder(t)

	plan := Make(testContext())
	leaf := &Declaration{FactoryName: factoryName}
	named := &Declaration{FactoryName: factoryName, Label: "named"}
	named.Inputs = []*Declaration{leaf}
	root := &Declaration{FactoryName: factoryName}
	root.Inputs = []*Declaration{named}

	if _, err := root.AddToPlan(plan); err != nil {
		t.Fatalf("AddToPlan: %v", err)
	}

	want := []string{"0", "named", "2"}
	if !equalStrings(*labels, want) {
		t.Fatalf("labels = %v, want %v", *labels, want)
	}
}
