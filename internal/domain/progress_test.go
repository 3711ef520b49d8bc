package domain

import "testing"

func TestCalculateMasteryLevel(t *testing.T) {
	tests := []struct {
		name      string
		completed int
		correct   int
		total     int
		want      int
	}{
		{name: "no questions defined", completed: 0, correct: 0, total: 0, want: 0},
		{name: "nothing answered", completed: 0, correct: 0, total: 10, want: 0},
		{name: "all answered all correct", completed: 10, correct: 10, total: 10, want: 100},
		{name: "full completion three quarters correct", completed: 4, correct: 3, total: 4, want: 83},
		{name: "half completion all correct", completed: 5, correct: 5, total: 10, want: 85},
		{name: "half completion none correct", completed: 5, correct: 0, total: 10, want: 15},
		{name: "single wrong answer", completed: 1, correct: 0, total: 4, want: 8},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CalculateMasteryLevel(tc.completed, tc.correct, tc.total)
			if got != tc.want {
				t.Fatalf("CalculateMasteryLevel(%d, %d, %d) = %d, want %d",
					tc.completed, tc.correct, tc.total, got, tc.want)
			}
		})
	}
}

func TestProgressMembership(t *testing.T) {
	p := UserProgress{
		QuestionsCompleted: []string{"q1", "q2"},
		QuestionsCorrect:   []string{"q1"},
	}
	if !p.HasCompleted("q2") {
		t.Fatal("expected q2 to be completed")
	}
	if p.HasCorrect("q2") {
		t.Fatal("q2 was answered wrong, should not be correct")
	}
	if !p.HasCorrect("q1") {
		t.Fatal("expected q1 to be correct")
	}
	if p.HasCompleted("q9") {
		t.Fatal("q9 was never answered")
	}
}
