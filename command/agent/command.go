// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/cli"
	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/attpc/daqctl/version"
)

// gracefulTimeout is how long to wait for a clean shutdown before just
// exiting.
const gracefulTimeout = 15 * time.Second

// Command is the `agent` CLI command: it runs the control plane until
// signaled.
type Command struct {
	Ui cli.Ui

	args  []string
	agent *Agent
}

func (c *Command) readConfig() (*Config, error) {
	var configPath string
	cmdConfig := &Config{}

	flags := flag.NewFlagSet("agent", flag.ContinueOnError)
	flags.Usage = func() { c.Ui.Error(c.Help()) }
	flags.StringVar(&configPath, "config", "", "")
	flags.StringVar(&cmdConfig.LogLevel, "log-level", "", "")
	flags.StringVar(&cmdConfig.Experiment, "experiment", "", "")
	if err := flags.Parse(c.args); err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if configPath != "" {
		fileConfig, err := LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		config = config.Merge(fileConfig)
	}
	return config.Merge(cmdConfig), nil
}

// setupTelemetry installs an in-memory sink so a SIGUSR1 dumps the task
// metrics to stderr.
func (c *Command) setupTelemetry() error {
	inm := metrics.NewInmemSink(10*time.Second, time.Minute)
	metrics.DefaultInmemSignal(inm)
	_, err := metrics.NewGlobal(metrics.DefaultConfig("daqctl"), inm)
	return err
}

func (c *Command) Run(args []string) int {
	c.args = args

	config, err := c.readConfig()
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "daqctl",
		Level: hclog.LevelFromString(config.LogLevel),
	})

	if err := c.setupTelemetry(); err != nil {
		c.Ui.Error(fmt.Sprintf("Error initializing telemetry: %s", err))
		return 1
	}

	agent, err := NewAgent(config, logger)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error starting agent: %s", err))
		return 1
	}
	c.agent = agent
	agent.Start()

	c.Ui.Output("daqctl agent started! Log data will stream in below:")
	c.Ui.Info(fmt.Sprintf("    Version: %s", version.GetVersion().FullVersionNumber(true)))
	c.Ui.Info(fmt.Sprintf(" Experiment: %s", config.Experiment))
	c.Ui.Info(fmt.Sprintf("  Log Level: %s", config.LogLevel))

	return c.handleSignals()
}

// handleSignals blocks until the process is told to exit.
func (c *Command) handleSignals() int {
	signalCh := make(chan os.Signal, 4)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-signalCh
		c.Ui.Output(fmt.Sprintf("Caught signal: %v", sig))

		// SIGHUP would be a config reload; nothing here reloads yet.
		if sig == syscall.SIGHUP {
			continue
		}

		done := make(chan struct{})
		go func() {
			c.agent.Shutdown()
			close(done)
		}()

		select {
		case <-done:
			return 0
		case <-time.After(gracefulTimeout):
			return 1
		}
	}
}

func (c *Command) Synopsis() string {
	return "Runs the DAQ control plane agent"
}

func (c *Command) Help() string {
	helpText := `
Usage: daqctl agent [options]

  Starts the daqctl agent and runs until an interrupt is received. The agent
  polls the ECC servers and data routers of the configured experiment and
  executes operator-requested state changes.

Options:

  -config=<path>
    Path to an HCL configuration file.

  -experiment=<name>
    Name of the active experiment. Created on first start.

  -log-level=<level>
    The logging level to use. One of TRACE, DEBUG, INFO, WARN, or ERROR.
`
	return strings.TrimSpace(helpText)
}
