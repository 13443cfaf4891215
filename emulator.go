package firebasil

import (
	"fmt"
	"os"
	"strings"
)

// EmulatorHostEnv is the environment variable the emulator suite sets to
// advertise the local realtime database instance.
const EmulatorHostEnv = "FIREBASE_DATABASE_EMULATOR_HOST"

// GetEnvOrDefault returns the named environment variable, or defaultValue
// when it is unset or empty.
func GetEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value
}

// EmulatorEndpoint returns the endpoint URL of the database emulator when
// FIREBASE_DATABASE_EMULATOR_HOST is set, and "" otherwise. The emulator
// speaks plain HTTP, so the host is given an http scheme unless it already
// carries one.
func EmulatorEndpoint() string {
	host := os.Getenv(EmulatorHostEnv)
	if host == "" {
		return ""
	}
	if strings.Contains(host, "://") {
		return strings.TrimRight(host, "/")
	}
	return fmt.Sprintf("http://%s", strings.TrimRight(host, "/"))
}
