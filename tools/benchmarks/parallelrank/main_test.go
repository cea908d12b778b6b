package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTopAnswers(t *testing.T) {
	tests := []struct {
		name       string
		sequential []string
		parallel   []string
		wantErr    string
	}{
		{
			name:       "all equal",
			sequential: []string{"a1", "a1"},
			parallel:   []string{"a1", "a1", "a1"},
		},
		{
			name:       "sequential mismatch",
			sequential: []string{"a1", "a2"},
			parallel:   []string{"a1"},
			wantErr:    `sequential request 2 returned "a2", expected "a1"`,
		},
		{
			name:       "parallel mismatch",
			sequential: []string{"a1"},
			parallel:   []string{"a1", "a1", "a3"},
			wantErr:    `parallel request 3 returned "a3", expected "a1"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTopAnswers(tt.sequential, tt.parallel)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}

func TestProgressFinishIsIdempotent(t *testing.T) {
	p := newProgress("test", 2)
	p.increment()
	p.increment()
	p.finish()
	p.finish()
	assert.True(t, p.finished)
	assert.Equal(t, 2, p.done)
}
