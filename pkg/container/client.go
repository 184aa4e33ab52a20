package container

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/core-tools/hsu-dash/pkg/errors"
	"github.com/core-tools/hsu-dash/pkg/logging"
	"github.com/core-tools/hsu-dash/pkg/metrics"
	"github.com/core-tools/hsu-dash/pkg/unit"
)

const (
	DefaultBinary         = "docker"
	DefaultNamePrefix     = "hsu-"
	DefaultStopTimeout    = 10 * time.Second
	DefaultCommandTimeout = 30 * time.Second

	unitLabel = "hsu.unit"
)

type Config struct {
	Binary         string        `yaml:"binary,omitempty"`
	NamePrefix     string        `yaml:"name_prefix,omitempty"`
	StopTimeout    time.Duration `yaml:"stop_timeout,omitempty"`
	CommandTimeout time.Duration `yaml:"command_timeout,omitempty"`
	// RemoveOrphans removes every unit-labelled container left behind by an
	// earlier run before any unit starts.
	RemoveOrphans  bool          `yaml:"remove_orphans,omitempty"`
}

func (c Config) withDefaults() Config {
	if c.Binary == "" {
		c.Binary = DefaultBinary
	}
	if c.NamePrefix == "" {
		c.NamePrefix = DefaultNamePrefix
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	return c
}

// State is the subset of `inspect .State` the engine needs.
type State struct {
	Status    string `json:"Status"`
	Running   bool   `json:"Running"`
	ExitCode  int    `json:"ExitCode"`
	Pid       int    `json:"Pid"`
	StartedAt string `json:"StartedAt"`
}

// Client drives containers through the container CLI. Every container it
// creates is named NamePrefix + unit id.
type Client struct {
	config Config
	runner Runner
	logger logging.Logger
}

func NewClient(config Config, runner Runner, logger logging.Logger) *Client {
	config = config.withDefaults()
	if runner == nil {
		runner = NewCLIRunner(config.Binary)
	}
	return &Client{config: config, runner: runner, logger: logger}
}

func (c *Client) Config() Config {
	return c.config
}

func (c *Client) Name(id unit.ID) string {
	return c.config.NamePrefix + string(id)
}

func (c *Client) run(ctx context.Context, args ...string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
	defer cancel()
	return c.runner.Run(ctx, args...)
}

// RunArgs builds the detached run invocation for def.
func (c *Client) RunArgs(def unit.Definition) []string {
	args := []string{"run", "-d", "--name", c.Name(def.ID), "--label", unitLabel + "=" + string(def.ID)}
	if def.Cwd != "" {
		args = append(args, "-w", def.Cwd)
	}
	for _, env := range def.EnvList() {
		args = append(args, "-e", env)
	}
	if def.Port > 0 {
		args = append(args, "-p", fmt.Sprintf("%d:%d", def.Port, def.Port))
	}
	args = append(args, def.Image)
	if def.Command != "" {
		args = append(args, "sh", "-c", def.Command)
	}
	return args
}

// Run removes any leftover container of the unit and starts a new one,
// returning its id.
func (c *Client) Run(ctx context.Context, def unit.Definition) (string, error) {
	name := c.Name(def.ID)
	if _, err := c.run(ctx, "rm", "-f", name); err != nil {
		c.logger.Debugf("No leftover container removed, name: %s, error: %v", name, err)
	}

	result, err := c.run(ctx, c.RunArgs(def)...)
	if err != nil {
		return "", errors.NewSpawnError("failed to run container", err).
			WithContext("id", string(def.ID)).
			WithContext("image", def.Image)
	}

	containerID := strings.TrimSpace(lastLine(result.Stdout))
	if containerID == "" {
		return "", errors.NewSpawnError("container runtime returned no container id", nil).WithContext("id", string(def.ID))
	}
	c.logger.Infof("Container started, id: %s, name: %s, container: %s", def.ID, name, shortID(containerID))
	return containerID, nil
}

// Logs follows the container output until the container exits or ctx ends.
func (c *Client) Logs(ctx context.Context, container string) (*Stream, error) {
	return c.runner.Start(ctx, "logs", "-f", container)
}

// Wait blocks until the container exits and returns its exit code.
func (c *Client) Wait(ctx context.Context, container string) (int, error) {
	result, err := c.runner.Run(ctx, "wait", container)
	if err != nil {
		return 0, err
	}
	code, err := strconv.Atoi(strings.TrimSpace(lastLine(result.Stdout)))
	if err != nil {
		return 0, errors.NewAdapterError("unexpected wait output", err).WithContext("output", result.Stdout)
	}
	return code, nil
}

func (c *Client) Stop(ctx context.Context, container string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.config.StopTimeout
	}
	seconds := int(timeout.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout+c.config.CommandTimeout)
	defer cancel()
	_, err := c.runner.Run(stopCtx, "stop", "-t", strconv.Itoa(seconds), container)
	return err
}

func (c *Client) Kill(ctx context.Context, container string) error {
	_, err := c.run(ctx, "kill", container)
	return err
}

func (c *Client) Remove(ctx context.Context, container string) error {
	_, err := c.run(ctx, "rm", "-f", container)
	return err
}

// Exec runs argv inside the container.
func (c *Client) Exec(ctx context.Context, container string, argv []string) (*Stream, error) {
	return c.runner.Start(ctx, append([]string{"exec", container}, argv...)...)
}

func (c *Client) Inspect(ctx context.Context, container string) (State, error) {
	result, err := c.run(ctx, "inspect", "--format", "{{json .State}}", container)
	if err != nil {
		return State{}, errors.NewNotFoundError("failed to inspect container", err).WithContext("container", container)
	}
	var state State
	if err := json.Unmarshal([]byte(strings.TrimSpace(result.Stdout)), &state); err != nil {
		return State{}, errors.NewAdapterError("unexpected inspect output", err).WithContext("container", container)
	}
	return state, nil
}

func (c *Client) Stats(ctx context.Context, container string) (metrics.Usage, error) {
	result, err := c.run(ctx, "stats", "--no-stream", "--format", "{{json .}}", container)
	if err != nil {
		return metrics.Usage{}, err
	}
	return ParseStats(lastLine(result.Stdout))
}

// List returns the names of containers created for units, sorted.
func (c *Client) List(ctx context.Context) ([]string, error) {
	result, err := c.run(ctx, "ps", "-a", "--filter", "label="+unitLabel, "--format", "{{.Names}}")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(result.Stdout, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

type statsLine struct {
	CPUPerc  string `json:"CPUPerc"`
	MemUsage string `json:"MemUsage"`
	NetIO    string `json:"NetIO"`
}

// ParseStats converts one `stats --format {{json .}}` line, for example
// {"CPUPerc":"0.52%","MemUsage":"10.5MiB / 1.9GiB","NetIO":"1.2kB / 648B"}.
func ParseStats(line string) (metrics.Usage, error) {
	var stats statsLine
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &stats); err != nil {
		return metrics.Usage{}, errors.NewAdapterError("unexpected stats output", err).WithContext("output", line)
	}

	var usage metrics.Usage
	var err error
	if cpu := strings.TrimSuffix(strings.TrimSpace(stats.CPUPerc), "%"); cpu != "" && cpu != "--" {
		if usage.CPUPercent, err = strconv.ParseFloat(cpu, 64); err != nil {
			return metrics.Usage{}, errors.NewAdapterError("invalid cpu percentage", err).WithContext("value", stats.CPUPerc)
		}
	}
	if usage.MemoryBytes, _, err = parsePair(stats.MemUsage); err != nil {
		return metrics.Usage{}, err
	}
	if usage.NetRxBytes, usage.NetTxBytes, err = parsePair(stats.NetIO); err != nil {
		return metrics.Usage{}, err
	}
	return usage, nil
}

// parsePair parses "<size> / <size>".
func parsePair(value string) (uint64, uint64, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "--" {
		return 0, 0, nil
	}
	parts := strings.SplitN(value, "/", 2)
	if len(parts) != 2 {
		return 0, 0, errors.NewAdapterError("invalid size pair", nil).WithContext("value", value)
	}
	first, err := humanize.ParseBytes(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, errors.NewAdapterError("invalid size", err).WithContext("value", value)
	}
	second, err := humanize.ParseBytes(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, errors.NewAdapterError("invalid size", err).WithContext("value", value)
	}
	return first, second, nil
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	return lines[len(lines)-1]
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
