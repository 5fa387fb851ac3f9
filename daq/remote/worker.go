// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package remote performs shell operations on the DAQ worker nodes, the
// hosts running getEccSoapServer and dataRouter. The connection is made
// over SSH honoring the user's SSH config; every interface is scoped and
// must be closed on all exit paths.
package remote

import (
	"fmt"
	"path"
	"strings"

	"github.com/armon/circbuf"
	"github.com/hashicorp/go-hclog"

	"github.com/attpc/daqctl/daq/structs"
)

const (
	// eccProcessName matches the command line of a running ECC server.
	eccProcessName = "getEccSoapServer"

	// routerProcessName matches the command line of a running data router.
	routerProcessName = "dataRouter"

	// maxTailBytes caps how much of a remote log file is returned.
	maxTailBytes = 16 * 1024

	// tailLines is how many trailing lines of a log are fetched.
	tailLines = 50
)

// commandRunner executes one shell command on the remote host and returns
// its stdout. The SSH-backed implementation lives in ssh.go; tests inject a
// recorder.
type commandRunner interface {
	Run(cmd string) ([]byte, error)
	Close() error
}

// WorkerInterface performs tasks on one DAQ worker node. Obtain one with
// NewWorkerInterface and close it when done; it holds an open SSH
// connection.
type WorkerInterface struct {
	logger hclog.Logger
	host   string
	runner commandRunner
}

// Close tears down the connection. Safe to call more than once.
func (w *WorkerInterface) Close() error {
	return w.runner.Close()
}

// shellQuote wraps s in single quotes so names with spaces or shell
// metacharacters survive the remote shell. Embedded single quotes are
// escaped with the standard '\'' dance.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// processRunning reports whether any process command line contains name.
func (w *WorkerInterface) processRunning(name string) (bool, error) {
	out, err := w.runner.Run("ps -e -o args=")
	if err != nil {
		return false, fmt.Errorf("ps on %s failed: %w", w.host, err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, name) {
			return true, nil
		}
	}
	return false, nil
}

// CheckEccServerStatus reports whether the ECC server process is running.
func (w *WorkerInterface) CheckEccServerStatus() (bool, error) {
	return w.processRunning(eccProcessName)
}

// CheckDataRouterStatus reports whether the dataRouter process is running.
func (w *WorkerInterface) CheckDataRouterStatus() (bool, error) {
	return w.processRunning(routerProcessName)
}

// FindDataRouter returns the working directory of the running dataRouter
// process, which is where it writes data. The directory is found with lsof.
func (w *WorkerInterface) FindDataRouter() (string, error) {
	out, err := w.runner.Run("lsof -a -d cwd -c dataRouter -Fcn")
	if err != nil {
		return "", fmt.Errorf("lsof on %s failed: %w", w.host, err)
	}

	// Field output: a p line per process, then c (command) and n (name)
	// lines. The p lines are skipped; a c line naming anything other than
	// dataRouter means lsof matched the wrong process.
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch line[0] {
		case 'p':
			continue
		case 'c':
			if line != "c"+routerProcessName {
				return "", &structs.WrongProcessError{Command: line[1:]}
			}
		case 'n':
			return line[1:], nil
		}
	}
	return "", structs.ErrRouterNotRunning
}

// GetGrawList returns the absolute paths of the .graw files in the data
// router's working directory.
func (w *WorkerInterface) GetGrawList() ([]string, error) {
	pwd, err := w.FindDataRouter()
	if err != nil {
		return nil, err
	}

	// ls exits non-zero when the glob matches nothing; that just means the
	// directory is clean.
	out, runErr := w.runner.Run(fmt.Sprintf("ls -1 %s/*.graw", shellQuote(pwd)))
	if runErr != nil && len(out) == 0 {
		return nil, nil
	}

	var graws []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasSuffix(line, ".graw") {
			graws = append(graws, line)
		}
	}
	return graws, nil
}

// WorkingDirIsClean reports whether the staging directory holds no .graw
// files. A run may only start when every router is clean.
func (w *WorkerInterface) WorkingDirIsClean() (bool, error) {
	graws, err := w.GetGrawList()
	if err != nil {
		return false, err
	}
	return len(graws) == 0, nil
}

// BuildRunDirPath computes the per-run directory under root, for example
// root/e17504/run_0004.
func BuildRunDirPath(root, experimentName string, runNumber int) string {
	return path.Join(root, experimentName, fmt.Sprintf("run_%04d", runNumber))
}

// OrganizeFiles moves the .graw files of the finished run from the staging
// directory into <pwd>/<experimentName>/run_NNNN. Idempotent per run
// number: re-running it finds no files left to move.
func (w *WorkerInterface) OrganizeFiles(experimentName string, runNumber int) error {
	pwd, err := w.FindDataRouter()
	if err != nil {
		return err
	}
	runDir := BuildRunDirPath(pwd, experimentName, runNumber)

	graws, err := w.GetGrawList()
	if err != nil {
		return err
	}

	if _, err := w.runner.Run("mkdir -p " + shellQuote(runDir)); err != nil {
		return fmt.Errorf("mkdir on %s failed: %w", w.host, err)
	}

	if len(graws) == 0 {
		w.logger.Debug("no graw files to organize", "host", w.host, "run", runNumber)
		return nil
	}

	quoted := make([]string, 0, len(graws))
	for _, g := range graws {
		quoted = append(quoted, shellQuote(g))
	}
	cmd := fmt.Sprintf("mv %s %s", strings.Join(quoted, " "), shellQuote(runDir))
	if _, err := w.runner.Run(cmd); err != nil {
		return fmt.Errorf("mv on %s failed: %w", w.host, err)
	}

	w.logger.Info("organized graw files", "host", w.host,
		"experiment", experimentName, "run", runNumber, "files", len(graws))
	return nil
}

// BackupConfigFiles copies the given config files into the run directory
// under destRoot, mirroring the layout OrganizeFiles produces for data.
func (w *WorkerInterface) BackupConfigFiles(experimentName string, runNumber int, paths []string, destRoot string) error {
	if len(paths) == 0 {
		return nil
	}
	runDir := BuildRunDirPath(destRoot, experimentName, runNumber)

	if _, err := w.runner.Run("mkdir -p " + shellQuote(runDir)); err != nil {
		return fmt.Errorf("mkdir on %s failed: %w", w.host, err)
	}

	quoted := make([]string, 0, len(paths))
	for _, p := range paths {
		quoted = append(quoted, shellQuote(p))
	}
	cmd := fmt.Sprintf("cp %s %s", strings.Join(quoted, " "), shellQuote(runDir))
	if _, err := w.runner.Run(cmd); err != nil {
		return fmt.Errorf("cp on %s failed: %w", w.host, err)
	}
	return nil
}

// TailFile returns the trailing lines of a remote file, capped at
// maxTailBytes, for log display.
func (w *WorkerInterface) TailFile(filePath string) (string, error) {
	out, err := w.runner.Run(fmt.Sprintf("tail -n %d %s", tailLines, shellQuote(filePath)))
	if err != nil {
		return "", fmt.Errorf("tail on %s failed: %w", w.host, err)
	}

	buf, err := circbuf.NewBuffer(maxTailBytes)
	if err != nil {
		return "", err
	}
	if _, err := buf.Write(out); err != nil {
		return "", err
	}
	return string(buf.Bytes()), nil
}
