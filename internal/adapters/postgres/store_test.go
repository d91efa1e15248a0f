package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrend(t *testing.T) {
	assert.Equal(t, 0.0, trend(0, 0))
	assert.Equal(t, 100.0, trend(5, 0), "counts appearing from nothing read as +100%")
	assert.Equal(t, 50.0, trend(15, 10))
	assert.Equal(t, -50.0, trend(5, 10))
	assert.Equal(t, -100.0, trend(0, 10))
}
