package telemetry

import (
	"context"
	"os"
	"testing"
)

var setupTestEnvironments = map[string]struct{}{}

// SetupForTesting initializes slog and telemetry for a test binary. A
// missing telemetry.json5 is fine in tests, exporters are simply left
// unconfigured. Repeated calls for the same service are no-ops so the
// per-test cleanup pattern stays cheap.
func SetupForTesting(t testing.TB, serviceName string) func() {
	_, setupAlready := setupTestEnvironments[serviceName]
	if setupAlready {
		return func() {}
	}
	setupTestEnvironments[serviceName] = struct{}{}

	InitSlog(true)
	tel, err := SetupFromEnv(context.Background(), serviceName)
	if os.IsNotExist(err) {
		return func() {}
	}
	if err != nil {
		t.Fatal(err)
	}
	return func() {
		err := tel.Shutdown(context.Background())
		if err != nil {
			t.Fatal(err)
		}
	}
}
