package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDayOfUsesLocation(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*60*60)
	instant := time.Date(2026, 3, 1, 20, 30, 0, 0, time.UTC)

	require.Equal(t, BusinessDay("2026-03-01"), DayOf(instant, time.UTC))
	require.Equal(t, BusinessDay("2026-03-02"), DayOf(instant, jakarta))
	require.Equal(t, BusinessDay("2026-03-01"), DayOf(instant, nil))
}

func TestParseBusinessDay(t *testing.T) {
	day, err := ParseBusinessDay("2026-10-16")
	require.NoError(t, err)
	require.Equal(t, "2026-10-16", day.String())
	require.Equal(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), day.Date())

	_, err = ParseBusinessDay("16/10/2026")
	require.Error(t, err)
}

func TestFormatPriorityNumber(t *testing.T) {
	cases := []struct {
		prefix string
		seq    int64
		want   string
	}{
		{"A-", 1, "A-0001"},
		{"A-", 4, "A-0004"},
		{"LAB", 123, "LAB0123"},
		{"", 98765, "98765"},
	}
	for _, tt := range cases {
		if got := FormatPriorityNumber(tt.prefix, tt.seq); got != tt.want {
			t.Fatalf("FormatPriorityNumber(%q, %d)=%q, want %q", tt.prefix, tt.seq, got, tt.want)
		}
	}
}

func TestOrderedSteps(t *testing.T) {
	flow := Flow{Steps: []FlowStep{
		{FlowStepID: "c", Position: 3},
		{FlowStepID: "a", Position: 1},
		{FlowStepID: "b", Position: 2},
	}}
	steps := flow.OrderedSteps()
	require.Equal(t, []string{"a", "b", "c"}, []string{steps[0].FlowStepID, steps[1].FlowStepID, steps[2].FlowStepID})
	require.Equal(t, "c", flow.Steps[0].FlowStepID)
}
