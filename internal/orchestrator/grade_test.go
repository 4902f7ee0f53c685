package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGradeBoundaries(t *testing.T) {
	cases := []struct {
		score int
		want  string
	}{
		{100, "A"},
		{85, "A"},
		{84, "B"},
		{70, "B"},
		{69, "C"},
		{55, "C"},
		{54, "D"},
		{40, "D"},
		{39, "F"},
		{0, "F"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Grade(c.score), "score %d", c.score)
	}
}
