package firebasil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("FIREBASIL_TEST_VAR", "set")
	assert.Equal(t, "set", GetEnvOrDefault("FIREBASIL_TEST_VAR", "fallback"))

	t.Setenv("FIREBASIL_TEST_VAR", "")
	assert.Equal(t, "fallback", GetEnvOrDefault("FIREBASIL_TEST_VAR", "fallback"))
}

func TestEmulatorEndpoint(t *testing.T) {
	t.Run("unset", func(t *testing.T) {
		t.Setenv(EmulatorHostEnv, "")
		assert.Equal(t, "", EmulatorEndpoint())
	})

	t.Run("bare host gets an http scheme", func(t *testing.T) {
		t.Setenv(EmulatorHostEnv, "127.0.0.1:9000")
		assert.Equal(t, "http://127.0.0.1:9000", EmulatorEndpoint())
	})

	t.Run("explicit scheme is kept", func(t *testing.T) {
		t.Setenv(EmulatorHostEnv, "https://emulator.local:9000/")
		assert.Equal(t, "https://emulator.local:9000", EmulatorEndpoint())
	})
}
