package custom

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rugix-project/rugix-ctrl/bootloader"
)

// fakeProgram writes a shell script that ignores its stdin and emits a
// fixed JSON response for every operation, so the call() plumbing can be
// exercised without a real boot-flow helper installed.
func fakeProgram(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flow.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	return path
}

func TestNameIsCustom(t *testing.T) {
	f := New("/bin/true")
	require.Equal(t, bootloader.Custom, f.Name())
}

func TestGetDefaultDecodesJSON(t *testing.T) {
	prog := fakeProgram(t, `cat <<'EOF'
{"group":"a"}
EOF
`)
	f := New(prog)
	group, err := f.GetDefault()
	require.NoError(t, err)
	require.Equal(t, "a", group)
}

func TestGetStatusDecodesJSON(t *testing.T) {
	prog := fakeProgram(t, `cat <<'EOF'
{"status":"good"}
EOF
`)
	f := New(prog)
	status, err := f.GetStatus("a")
	require.NoError(t, err)
	require.Equal(t, bootloader.Good, status)
}

func TestRemainingAttemptsDecodesJSON(t *testing.T) {
	prog := fakeProgram(t, `cat <<'EOF'
{"attempts":2}
EOF
`)
	f := New(prog)
	n, err := f.RemainingAttempts("b")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestSetTryNextPropagatesFailure(t *testing.T) {
	prog := fakeProgram(t, `echo boom 1>&2; exit 1`)
	f := New(prog)
	err := f.SetTryNext("b")
	require.Error(t, err)
}

func TestCommitIgnoresEmptyStdout(t *testing.T) {
	prog := fakeProgram(t, `exit 0`)
	f := New(prog)
	require.NoError(t, f.Commit("a"))
}
