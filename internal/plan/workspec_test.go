package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStringWork(t *testing.T) {
	t.Run("plain command becomes a string work spec", func(t *testing.T) {
		w := NewStringWork("go test ./...")
		assert.Equal(t, WorkString, w.Kind)
		assert.Equal(t, "go test ./...", w.String)
	})

	t.Run("agent prefix becomes an agent work spec", func(t *testing.T) {
		w := NewStringWork("@agent fix the failing test")
		assert.Equal(t, WorkAgent, w.Kind)
		assert.Equal(t, "fix the failing test", w.Instructions)
	})
}

func TestWorkSpecResumesSession(t *testing.T) {
	tests := []struct {
		name string
		w    WorkSpec
		want bool
	}{
		{"non-agent never resumes", WorkSpec{Kind: WorkShell, Command: "true"}, false},
		{"agent defaults to resume", WorkSpec{Kind: WorkAgent}, true},
		{"agent explicit resume", WorkSpec{Kind: WorkAgent, ResumeSession: boolPtr(true)}, true},
		{"agent explicit no-resume", WorkSpec{Kind: WorkAgent, ResumeSession: boolPtr(false)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.w.ResumesSession())
		})
	}
}

func TestWorkSpecAutoHealable(t *testing.T) {
	assert.True(t, WorkSpec{}.AutoHealable())
	assert.True(t, WorkSpec{OnFailure: &OnFailure{}}.AutoHealable())
	assert.False(t, WorkSpec{OnFailure: &OnFailure{NoAutoHeal: true}}.AutoHealable())
}

func TestAutoHealWork(t *testing.T) {
	w := AutoHealWork("build the widget", "exit status 1")
	require.Equal(t, WorkAgent, w.Kind)
	assert.Contains(t, w.Instructions, "build the widget")
	assert.Contains(t, w.Instructions, "exit status 1")
}

func boolPtr(b bool) *bool { return &b }
