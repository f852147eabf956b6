package deployment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 5 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Duration(0), b.Delay(0))
	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 4*time.Second, b.Delay(3))
	assert.Equal(t, 5*time.Second, b.Delay(4))
	assert.Equal(t, 5*time.Second, b.Delay(50))
}

func TestBackoff_Normalize(t *testing.T) {
	b := Backoff{}.Normalize()
	assert.Equal(t, DefaultBackoff(), b)

	b = Backoff{Initial: time.Minute, Max: time.Second, Multiplier: 0.5, MaxAttempts: 2}.Normalize()
	assert.Equal(t, time.Minute, b.Max)
	assert.Equal(t, float64(2), b.Multiplier)
	assert.Equal(t, 2, b.MaxAttempts)
}

// =============================================================================
// Naming Tests
// =============================================================================

func TestContainerName(t *testing.T) {
	assert.Equal(t, "nucleus_web_v3", ContainerName("web", 3))
}

func TestImageTag(t *testing.T) {
	assert.Equal(t, "nucleus/web:1f3a", ImageTag("web", "1f3a"))
}

func TestHostname(t *testing.T) {
	assert.Equal(t, "web.apps.example.com", Hostname("web", "apps.example.com"))
}
