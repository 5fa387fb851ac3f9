// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package remote

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/kevinburke/ssh_config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

const sshDialTimeout = 10 * time.Second

// NewWorkerInterface opens an SSH connection to the named host. The host is
// resolved through the operator's ~/.ssh/config, so aliases, per-host users,
// ports, and identity files all behave the way a manual ssh would.
func NewWorkerInterface(logger hclog.Logger, host string) (*WorkerInterface, error) {
	hostname := ssh_config.Get(host, "HostName")
	if hostname == "" {
		hostname = host
	}
	port := ssh_config.Get(host, "Port")
	if port == "" {
		port = "22"
	}
	user := ssh_config.Get(host, "User")
	if user == "" {
		user = os.Getenv("USER")
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods(logger, host),
		HostKeyCallback: hostKeyCallback(logger),
		Timeout:         sshDialTimeout,
	}

	client, err := ssh.Dial("tcp", net.JoinHostPort(hostname, port), cfg)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", host, err)
	}

	return &WorkerInterface{
		logger: logger.Named("remote").With("host", host),
		host:   host,
		runner: &sshRunner{client: client},
	}, nil
}

// authMethods gathers the usable authentication methods: the SSH agent if
// one is reachable, plus any identity file the SSH config names for the
// host.
func authMethods(logger hclog.Logger, host string) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		} else {
			logger.Warn("ssh agent unreachable", "error", err)
		}
	}

	identity := ssh_config.Get(host, "IdentityFile")
	if identity != "" {
		if signer, err := loadIdentity(identity); err == nil {
			methods = append(methods, ssh.PublicKeys(signer))
		} else if !os.IsNotExist(err) {
			logger.Warn("could not load identity file", "path", identity, "error", err)
		}
	}

	return methods
}

func loadIdentity(path string) (ssh.Signer, error) {
	if len(path) > 1 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, path[2:])
	}
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(key)
}

// hostKeyCallback verifies against ~/.ssh/known_hosts when that file is
// readable. Worker nodes live on a private DAQ network, so a missing file
// degrades to accepting any key with a warning rather than refusing to
// manage the farm.
func hostKeyCallback(logger hclog.Logger) ssh.HostKeyCallback {
	home, err := os.UserHomeDir()
	if err == nil {
		cb, khErr := knownhosts.New(filepath.Join(home, ".ssh", "known_hosts"))
		if khErr == nil {
			return cb
		}
		err = khErr
	}
	logger.Warn("known_hosts unavailable, skipping host key verification", "error", err)
	return ssh.InsecureIgnoreHostKey()
}

// sshRunner runs each command in its own session on a shared connection.
type sshRunner struct {
	client *ssh.Client
}

func (r *sshRunner) Run(cmd string) ([]byte, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return nil, err
	}
	defer session.Close()
	return session.Output(cmd)
}

func (r *sshRunner) Close() error {
	return r.client.Close()
}
