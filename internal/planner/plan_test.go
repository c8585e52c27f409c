package planner

import (
	"strings"
	"testing"
)

func TestParsePlan(t *testing.T) {
	data := []byte(`{"order": [3, 1, 2], "summary": "lexer first"}`)

	plan, err := ParsePlan(data)
	if err != nil {
		t.Fatalf("ParsePlan returned error: %v", err)
	}
	if !equalOrder(plan.Order, []int{3, 1, 2}) {
		t.Errorf("Order = %v, want [3 1 2]", plan.Order)
	}
	if plan.Summary != "lexer first" {
		t.Errorf("Summary = %q", plan.Summary)
	}
}

func TestParsePlan_Malformed(t *testing.T) {
	_, err := ParsePlan([]byte("not json at all"))
	if err == nil {
		t.Fatal("expected error for malformed plan")
	}
	if !strings.Contains(err.Error(), "malformed plan document") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPlanEncodeRoundTrip(t *testing.T) {
	plan := &Plan{Order: []int{2, 1}, Summary: "deps resolved"}

	data, err := plan.Encode()
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Error("encoded plan should end with a newline")
	}

	decoded, err := ParsePlan(data)
	if err != nil {
		t.Fatalf("ParsePlan of encoded plan returned error: %v", err)
	}
	if !equalOrder(decoded.Order, plan.Order) || decoded.Summary != plan.Summary {
		t.Errorf("round trip mismatch: %+v vs %+v", decoded, plan)
	}
}
