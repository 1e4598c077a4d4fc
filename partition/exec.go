package partition

import (
	"bufio"
	"bytes"
	"os/exec"
)

// runCommand runs args, generalizing the teacher's free function of the
// same name (partition/partition.go) which every mount/fsck helper called
// through.
func runCommand(args ...string) error {
	cmd := exec.Command(args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &execError{args: args, stderr: stderr.String(), err: err}
	}
	return nil
}

// runCommandWithStdout runs args and returns its stdout split into lines,
// generalizing the teacher's runLsblk helper which had the same shape.
func runCommandWithStdout(args ...string) ([]string, error) {
	cmd := exec.Command(args[0], args[1:]...)
	out, err := cmd.Output()
	if err != nil {
		return nil, &execError{args: args, err: err}
	}
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

type execError struct {
	args   []string
	stderr string
	err    error
}

func (e *execError) Error() string {
	if e.stderr != "" {
		return e.args[0] + ": " + e.err.Error() + ": " + e.stderr
	}
	return e.args[0] + ": " + e.err.Error()
}

func (e *execError) Unwrap() error { return e.err }
