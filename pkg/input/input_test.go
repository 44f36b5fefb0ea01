package input

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequence(t *testing.T) {
	s := NewSequence(false, true, true, false)
	readErr := errors.New("line busy")
	s.FailAt(2, readErr)

	var got []bool
	for i := 0; i < 6; i++ {
		level, err := s.Read()
		if i == 2 {
			assert.ErrorIs(t, err, readErr)
			continue
		}
		require.NoError(t, err)
		got = append(got, level)
	}

	// The last level repeats
	assert.Equal(t, []bool{false, true, false, false, false}, got)
	assert.Equal(t, 6, s.Reads())
}

func TestToggle(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	tg := &Toggle{period: time.Second, start: start, now: func() time.Time { return now }}

	for _, tt := range []struct {
		offset time.Duration
		level  bool
	}{
		{0, false},
		{500 * time.Millisecond, false},
		{time.Second, true},
		{1900 * time.Millisecond, true},
		{2 * time.Second, false},
	} {
		now = start.Add(tt.offset)
		level, err := tg.Read()
		require.NoError(t, err)
		assert.Equal(t, tt.level, level, "at %v", tt.offset)
	}
}
