package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultsPresent(t *testing.T) {
	assert.NotEmpty(t, Version)
	assert.NotEmpty(t, BuildTime)
	assert.NotEmpty(t, GitCommit)
}
