package ui

import (
	"strings"
	"testing"
)

func TestConsoleConfirmAnswers(t *testing.T) {
	cases := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"yes\n", true},
		{"Update Now\n", true},
		{"n\n", false},
		{"\n", false},
		{"maybe\n", false},
	}
	for _, tc := range cases {
		var out strings.Builder
		c := Console{In: strings.NewReader(tc.input), Out: &out}
		if got := c.Confirm("Update Available", "Install?", "Update Now"); got != tc.want {
			t.Errorf("Confirm with input %q = %v, want %v", tc.input, got, tc.want)
		}
		if !strings.Contains(out.String(), "Update Available") {
			t.Errorf("prompt missing title: %q", out.String())
		}
	}
}

func TestConsoleConfirmEOF(t *testing.T) {
	c := Console{In: strings.NewReader(""), Out: &strings.Builder{}}
	if c.Confirm("t", "m", "ok") {
		t.Fatal("EOF must answer no")
	}
}

func TestLoggedConfirm(t *testing.T) {
	if (Logged{}).Confirm("t", "m", "ok") {
		t.Fatal("default Logged must decline")
	}
	if !(Logged{Accept: true}).Confirm("t", "m", "ok") {
		t.Fatal("Accept must answer yes")
	}
}
