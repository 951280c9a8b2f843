package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_DoublesUpToMax(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second, 2)

	var got []time.Duration
	for i := 0; i < 7; i++ {
		got = append(got, b.Next())
	}

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 7, b.Attempts())
}

func TestBackoff_ResetStartsOver(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second, 2)
	b.Next()
	b.Next()
	b.Next()

	b.Reset()

	assert.Equal(t, 0, b.Attempts())
	assert.Equal(t, time.Second, b.Next())
}

func TestBackoff_NeverOverflows(t *testing.T) {
	b := NewBackoff(time.Second, time.Minute, 10)
	for i := 0; i < 500; i++ {
		b.Next()
	}
	assert.Equal(t, time.Minute, b.Next())
}

func TestNewBackoff_Defaults(t *testing.T) {
	tests := []struct {
		name    string
		initial time.Duration
		max     time.Duration
		factor  float64
		want    Backoff
	}{
		{"zero values", 0, 0, 0, Backoff{Initial: DefaultInitialBackoff, Max: DefaultInitialBackoff, Factor: DefaultBackoffFactor}},
		{"max below initial", 5 * time.Second, time.Second, 3, Backoff{Initial: 5 * time.Second, Max: 5 * time.Second, Factor: 3}},
		{"as given", 500 * time.Millisecond, 10 * time.Second, 1.5, Backoff{Initial: 500 * time.Millisecond, Max: 10 * time.Second, Factor: 1.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, *NewBackoff(tt.initial, tt.max, tt.factor))
		})
	}
}
