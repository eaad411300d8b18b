package version

import (
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringRendersStampedMetadata(t *testing.T) {
	stamp(t, "0.3.0", "f00dcafe", "2026-07-01")

	want := fmt.Sprintf("kaiwa 0.3.0 (commit=f00dcafe, date=2026-07-01, go=%s)", runtime.Version())
	require.Equal(t, want, String())
}

func TestStringDefaultsAreUsable(t *testing.T) {
	require.Contains(t, String(), "kaiwa ")
	require.Contains(t, String(), "go=")
}

func stamp(t *testing.T, version, commit, date string) {
	t.Helper()

	prevVersion, prevCommit, prevDate := Version, Commit, Date
	t.Cleanup(func() {
		Version, Commit, Date = prevVersion, prevCommit, prevDate
	})
	Version, Commit, Date = version, commit, date
}
