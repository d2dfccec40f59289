// Package envctx detects the runtime environment the agent is running
// in. Detection happens exactly once at startup; the resulting Context
// is immutable for the process lifetime and injected into every
// component that needs environment-conditional behavior.
package envctx

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/sensors"
	"go.uber.org/zap"
)

// Kind classifies the detected environment.
type Kind int

const (
	// Host is the fail-safe default: bare metal or an undetectable VM.
	Host Kind = iota
	// Container means the agent runs inside a container (LXC, Docker,
	// containerd, ...).
	Container
)

func (k Kind) String() string {
	if k == Container {
		return "container"
	}
	return "host"
}

// Capability flags gate optional collectors.
type Capability string

const (
	CapZFS     Capability = "zfs"
	CapSensors Capability = "sensors"
	CapSMART   Capability = "smart"
)

// probeTimeout bounds each capability probe.
const probeTimeout = 500 * time.Millisecond

// Context holds the detection result. It is never mutated after Detect
// returns.
type Context struct {
	Kind        Kind
	HostName    string
	ContainerID string
	InstanceID  string

	capabilities map[Capability]bool
}

// Has reports whether an optional capability was detected.
func (c *Context) Has(cap Capability) bool {
	return c.capabilities[cap]
}

// Instance returns the human-readable instance identifier:
// "hostname:containerid" in a container, "host-hostname" otherwise.
func (c *Context) Instance() string {
	if c.Kind == Container {
		if c.ContainerID != "" {
			return c.HostName + ":" + c.ContainerID
		}
		return c.HostName
	}
	return "host-" + c.HostName
}

// DefaultLabels returns the label set merged into every sample.
// Collector-supplied labels take precedence on collision.
func (c *Context) DefaultLabels() map[string]string {
	labels := map[string]string{
		"host_name": c.HostName,
		"instance":  c.Instance(),
	}
	if c.ContainerID != "" {
		labels["container_id"] = c.ContainerID
	}
	return labels
}

// ResourceAttributes returns the attribute set describing the reporting
// entity, attached once per push export rather than per series.
func (c *Context) ResourceAttributes() map[string]string {
	attrs := map[string]string{
		"host.name":           c.HostName,
		"service.instance.id": c.InstanceID,
		"hostvantage.env":     c.Kind.String(),
	}
	if c.ContainerID != "" {
		attrs["container.id"] = c.ContainerID
	}
	return attrs
}

// detector carries the probe functions so tests can substitute them.
type detector struct {
	hostname    func() (string, error)
	readFile    func(string) ([]byte, error)
	fileExists  func(string) bool
	lookPath    func(string) (string, error)
	runCommand  func(ctx context.Context, name string, args ...string) error
	readSensors func(ctx context.Context) (int, error)
	logger      *zap.Logger
}

func defaultDetector(logger *zap.Logger) *detector {
	return &detector{
		hostname: os.Hostname,
		readFile: os.ReadFile,
		fileExists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
		lookPath: exec.LookPath,
		runCommand: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
		readSensors: func(ctx context.Context) (int, error) {
			readings, err := sensors.TemperaturesWithContext(ctx)
			return len(readings), err
		},
		logger: logger,
	}
}

// Detect probes the runtime environment once. It never fails: any
// ambiguity degrades to Host with all optional capabilities cleared.
func Detect(ctx context.Context, logger *zap.Logger) *Context {
	return defaultDetector(logger).detect(ctx)
}

func (d *detector) detect(ctx context.Context) *Context {
	env := &Context{
		Kind:         Host,
		capabilities: make(map[Capability]bool),
	}

	name, err := d.hostname()
	if err != nil {
		d.logger.Warn("hostname lookup failed, using fallback", zap.Error(err))
		name = "unknown"
	}
	env.HostName = name

	if kind, id := d.detectContainer(); kind == Container {
		env.Kind = Container
		env.ContainerID = id
	}

	seed := "hostvantage/" + env.HostName
	if env.ContainerID != "" {
		seed += "/" + env.ContainerID
	}
	env.InstanceID = uuid.NewSHA1(uuid.NameSpaceDNS, []byte(seed)).String()

	env.capabilities[CapZFS] = d.probeZFS(ctx)
	env.capabilities[CapSensors] = d.probeSensors(ctx)
	env.capabilities[CapSMART] = d.probeSMART()

	d.logger.Info("environment detected",
		zap.String("kind", env.Kind.String()),
		zap.String("host_name", env.HostName),
		zap.String("container_id", env.ContainerID),
		zap.String("instance_id", env.InstanceID),
		zap.Bool("zfs", env.capabilities[CapZFS]),
		zap.Bool("sensors", env.capabilities[CapSensors]),
		zap.Bool("smart", env.capabilities[CapSMART]),
	)
	return env
}

// detectContainer checks container-identifying markers before falling
// back to host classification.
func (d *detector) detectContainer() (Kind, string) {
	if d.fileExists("/.dockerenv") || d.fileExists("/run/.containerenv") {
		return Container, d.cgroupContainerID()
	}

	if data, err := d.readFile("/proc/1/environ"); err == nil {
		for _, kv := range strings.Split(string(data), "\x00") {
			if strings.HasPrefix(kv, "container=") {
				return Container, d.cgroupContainerID()
			}
		}
	}

	if id := d.cgroupContainerID(); id != "" {
		return Container, id
	}
	return Host, ""
}

// cgroupContainerID extracts a container identifier from the init
// process's cgroup paths. Empty result means no container marker found.
func (d *detector) cgroupContainerID() string {
	data, err := d.readFile("/proc/1/cgroup")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		idx := strings.LastIndexByte(line, ':')
		if idx < 0 {
			continue
		}
		segments := strings.Split(line[idx+1:], "/")
		for i, seg := range segments {
			seg = strings.TrimSuffix(seg, ".scope")
			switch {
			case strings.HasPrefix(seg, "docker-"):
				return strings.TrimPrefix(seg, "docker-")
			case strings.HasPrefix(seg, "lxc.payload."):
				return strings.TrimPrefix(seg, "lxc.payload.")
			case seg == "docker" || seg == "lxc" || seg == "containerd":
				if i+1 < len(segments) && segments[i+1] != "" {
					return strings.TrimSuffix(segments[i+1], ".scope")
				}
			}
		}
	}
	return ""
}

func (d *detector) probeZFS(ctx context.Context) bool {
	if _, err := d.lookPath("zpool"); err != nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := d.runCommand(probeCtx, "zpool", "list", "-H", "-o", "name"); err != nil {
		d.logger.Debug("zfs probe failed", zap.Error(err))
		return false
	}
	return true
}

func (d *detector) probeSensors(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	n, err := d.readSensors(probeCtx)
	if err != nil {
		d.logger.Debug("sensors probe failed", zap.Error(err))
		return false
	}
	return n > 0
}

func (d *detector) probeSMART() bool {
	_, err := d.lookPath("smartctl")
	return err == nil
}
