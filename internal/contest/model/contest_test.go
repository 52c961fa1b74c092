package model

import "testing"

func TestProblemResultReplaces(t *testing.T) {
	prev := ProblemResult{SolutionID: "s2", SolutionCreatedAt: 20}
	tests := []struct {
		name string
		next ProblemResult
		want bool
	}{
		{name: "same solution rejudged", next: ProblemResult{SolutionID: "s2", SolutionCreatedAt: 20}, want: true},
		{name: "later solution", next: ProblemResult{SolutionID: "s3", SolutionCreatedAt: 30}, want: true},
		{name: "earlier solution", next: ProblemResult{SolutionID: "s1", SolutionCreatedAt: 10}, want: false},
		{name: "same instant breaks on id", next: ProblemResult{SolutionID: "s1", SolutionCreatedAt: 20}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.next.Replaces(prev); got != tt.want {
				t.Fatalf("Replaces = %v, want %v", got, tt.want)
			}
		})
	}
}
