package supervisor

import "os/exec"

func execLookPath(path string) (string, error) {
	return exec.LookPath(path)
}
