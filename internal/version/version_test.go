package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	s := String()
	assert.Contains(t, s, Version)
	assert.Contains(t, s, "commit: "+GitCommit)
	assert.Contains(t, s, "built: "+BuildDate)
}
