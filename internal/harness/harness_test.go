package harness

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// buildBinary compiles one cmd/<name> package into a temp dir. Skips the
// test rather than failing when the go toolchain isn't on PATH, since this
// test exercises a real subprocess end-to-end rather than just package code.
func buildBinary(t *testing.T, name string) string {
	t.Helper()
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not available")
	}
	out := filepath.Join(t.TempDir(), name)
	cmd := exec.Command("go", "build", "-o", out, "github.com/glomers/node-fleet/cmd/"+name)
	cmd.Dir = repoRoot(t)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("build %s failed (likely no module cache): %v\n%s", name, err, output)
	}
	return out
}

func repoRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Join(wd, "..", "..")
}

func TestRunDrivesEchoThroughInitAndEcho(t *testing.T) {
	bin := buildBinary(t, "echo")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := Run(ctx, bin, Scenario{
		NodeID:  "n1",
		NodeIDs: []string{"n1"},
		Steps: []Step{
			{
				Body:        map[string]any{"type": "echo", "msg_id": 2, "echo": "hello"},
				ExpectTypes: []string{"echo_ok"},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Passed(), "missing types: %v", results[0].Missing)
}

func TestRunReportsMissingExpectation(t *testing.T) {
	bin := buildBinary(t, "echo")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := Run(ctx, bin, Scenario{
		NodeID:  "n1",
		NodeIDs: []string{"n1"},
		Steps: []Step{
			{
				Body:        map[string]any{"type": "echo", "msg_id": 2, "echo": "hello"},
				ExpectTypes: []string{"never_sent"},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].Passed())
	require.Equal(t, []string{"never_sent"}, results[0].Missing)
}
