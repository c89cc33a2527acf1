//go:build unit

package constant

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeMetricLabel(t *testing.T) {
	assert.Equal(t, "connect", SanitizeMetricLabel("connect"))

	long := strings.Repeat("x", MaxMetricLabelLength+10)
	assert.Len(t, SanitizeMetricLabel(long), MaxMetricLabelLength)
}
