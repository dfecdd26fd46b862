package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("spc")
	assert.True(t, strings.HasPrefix(id, "spc_"))
	assert.Len(t, id, len("spc_")+32)
	assert.NotEqual(t, id, NewID("spc"))
	assert.Len(t, NewID(""), 32)
}
