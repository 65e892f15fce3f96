package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{
			name: "pending to running",
			from: StatusPending,
			to:   StatusRunning,
			want: true,
		},
		{
			name: "running to completed",
			from: StatusRunning,
			to:   StatusCompleted,
			want: true,
		},
		{
			name: "completed to archived",
			from: StatusCompleted,
			to:   StatusArchived,
			want: true,
		},
		{
			name: "archived to restoring",
			from: StatusArchived,
			to:   StatusRestoring,
			want: true,
		},
		{
			name: "restoring back to completed",
			from: StatusRestoring,
			to:   StatusCompleted,
			want: true,
		},
		{
			name: "pending cannot skip to completed",
			from: StatusPending,
			to:   StatusCompleted,
			want: false,
		},
		{
			name: "completed cannot regress to running",
			from: StatusCompleted,
			to:   StatusRunning,
			want: false,
		},
		{
			name: "archived cannot jump to completed directly",
			from: StatusArchived,
			to:   StatusCompleted,
			want: false,
		},
		{
			name: "running cannot be archived",
			from: StatusRunning,
			to:   StatusArchived,
			want: false,
		},
		{
			name: "no self transition",
			from: StatusRunning,
			to:   StatusRunning,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCanTransition_ArchiveRestoreCycleRepeats(t *testing.T) {
	// A restored job may be archived again, indefinitely.
	cycle := []Status{StatusCompleted, StatusArchived, StatusRestoring, StatusCompleted, StatusArchived}
	for i := 0; i < len(cycle)-1; i++ {
		assert.True(t, CanTransition(cycle[i], cycle[i+1]),
			"expected %s -> %s to be legal", cycle[i], cycle[i+1])
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusRunning, StatusCompleted, StatusArchived, StatusRestoring} {
		assert.True(t, ValidStatus(s))
	}

	assert.False(t, ValidStatus(Status("FAILED")))
	assert.False(t, ValidStatus(Status("")))
	assert.False(t, ValidStatus(Status("pending")))
}
