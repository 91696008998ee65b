package cloud

import (
	"reflect"
	"testing"
)

func TestFilterRegionsHierarchy(t *testing.T) {
	universe := []string{"us-east-1", "us-west-2", "eu-west-1", "ap-south-1"}

	// No restrictions: everything selected.
	selected, skipped := FilterRegions(universe, nil, nil)
	if len(selected) != 4 || len(skipped) != 0 {
		t.Fatalf("unrestricted = %v / %v", selected, skipped)
	}

	// Operator allow-list narrows first.
	selected, skipped = FilterRegions(universe, []string{"us-east-1", "eu-west-1"}, nil)
	if !reflect.DeepEqual(selected, []string{"eu-west-1", "us-east-1"}) {
		t.Fatalf("allow-list selected = %v", selected)
	}
	if !reflect.DeepEqual(skipped, []string{"ap-south-1", "us-west-2"}) {
		t.Fatalf("allow-list skipped = %v", skipped)
	}

	// The per-query filter only sees what the allow-list admitted.
	selected, _ = FilterRegions(universe,
		[]string{"us-east-1", "eu-west-1"},
		[]string{"eu-west-1", "us-west-2"})
	if !reflect.DeepEqual(selected, []string{"eu-west-1"}) {
		t.Fatalf("combined selected = %v", selected)
	}

	// A request outside the universe selects nothing.
	selected, skipped = FilterRegions(universe, nil, []string{"me-south-1"})
	if len(selected) != 0 || len(skipped) != 4 {
		t.Fatalf("out-of-universe = %v / %v", selected, skipped)
	}
}

func TestFilterRegionsOutputsSorted(t *testing.T) {
	selected, skipped := FilterRegions(
		[]string{"us-west-2", "ap-south-1", "eu-west-1"},
		[]string{"us-west-2", "eu-west-1"},
		nil)
	if !reflect.DeepEqual(selected, []string{"eu-west-1", "us-west-2"}) {
		t.Fatalf("selected = %v", selected)
	}
	if !reflect.DeepEqual(skipped, []string{"ap-south-1"}) {
		t.Fatalf("skipped = %v", skipped)
	}
}
