package container

import (
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/benkle-apps/sergio/internal/engine"
	"github.com/benkle-apps/sergio/internal/iptables"
	"github.com/benkle-apps/sergio/internal/template"
)

const (
	defaultShell = "/bin/sh"
	defaultUser  = "root"

	// quiescenceDelay is the pause after a launch or start that lets DHCP
	// settle before NAT rules are applied.
	quiescenceDelay = 5 * time.Second
)

// Registry hands out merged containers by id. Implemented by
// internal/registry; declared here so the load direction stays acyclic.
type Registry interface {
	Has(id string) bool
	Get(id string) (*Container, error)
}

// Output controls where invocation output goes. Log enables the
// "[name] message" lines, Actions attaches in-container stdout/stderr to the
// terminal.
type Output struct {
	Actions bool
	Log     bool
}

// Deps bundles the collaborators a container needs. Zero values for Sleep,
// Now, Stdout and Stdin fall back to the real clock and process stdio.
type Deps struct {
	Registry Registry
	Engine   engine.Engine
	Rules    *iptables.Rules
	Template *template.Engine
	Logger   *zap.Logger
	Output   Output

	BackupsDir     string
	ConfigDir      string
	DefinitionsDir string

	Sleep  func(time.Duration)
	Now    func() time.Time
	Stdout io.Writer
	Stdin  io.Reader
}

// Port publishes one container port on the host.
type Port struct {
	Device   string
	Protocol string
	From     int
	To       int
	Comment  string
}

// Mountpoint binds a host path into the container.
type Mountpoint struct {
	Name   string
	Source string
	Path   string
}

// Spec is the merged, immutable description of one container after
// inheritance flattening.
type Spec struct {
	ID          string
	Name        string
	Description string
	Box         string
	Shell       string
	User        string
	Requires    []string
	Variables   map[string]string
	Files       map[string]FileSource
	Mountpoints []Mountpoint
	Ports       []Port
	Actions     map[string]*Stack
}

// Container is the in-memory model for one invocation: the merged spec plus
// the transient state (workdir, IP cache, instance handle).
type Container struct {
	spec Spec
	deps Deps

	workdir string
	ips     map[string]string
	devices map[string]bool
	inst    engine.Instance
}

// New builds a container from a merged spec, applying the shell/user
// defaults, the reserved variables and the per-port defaults.
func New(spec Spec, deps Deps) *Container {
	if spec.Shell == "" {
		spec.Shell = defaultShell
	}
	if spec.User == "" {
		spec.User = defaultUser
	}
	if spec.Variables == nil {
		spec.Variables = map[string]string{}
	}
	spec.Variables["_name"] = spec.Name
	spec.Variables["_description"] = spec.Description
	for i := range spec.Ports {
		if spec.Ports[i].Device == "" {
			spec.Ports[i].Device = "eth0"
		}
		if spec.Ports[i].Comment == "" {
			spec.Ports[i].Comment = spec.Name
		}
	}
	if deps.Sleep == nil {
		deps.Sleep = time.Sleep
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stdin == nil {
		deps.Stdin = os.Stdin
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Container{spec: spec, deps: deps}
}

// ID returns the container identifier.
func (c *Container) ID() string { return c.spec.ID }

// Name returns the human label.
func (c *Container) Name() string { return c.spec.Name }

// Spec returns the merged spec. The registry uses it to flatten inheritance.
func (c *Container) Spec() Spec { return c.spec }

// Workdir returns the transient working directory, empty when unset.
func (c *Container) Workdir() string { return c.workdir }

// SetWorkdir stores the transient working directory for subsequent shell
// items of this invocation.
func (c *Container) SetWorkdir(dir string) { c.workdir = dir }

// Log emits a "[name] message" line when log output is enabled.
func (c *Container) Log(format string, args ...any) {
	if !c.deps.Output.Log {
		return
	}
	fmt.Fprintf(c.deps.Stdout, "[%s] %s\n", c.spec.Name, fmt.Sprintf(format, args...))
}

// Exists reports whether the engine knows the container.
func (c *Container) Exists() (bool, error) {
	return c.deps.Engine.Exists(c.spec.ID)
}

// IsRunning reports whether the container exists and is running.
func (c *Container) IsRunning() (bool, error) {
	exists, err := c.Exists()
	if err != nil || !exists {
		return false, err
	}
	inst, err := c.instance()
	if err != nil {
		return false, err
	}
	status, err := inst.Status()
	if err != nil {
		return false, err
	}
	return status == engine.StatusRunning, nil
}

// instance returns the cached engine handle, fetching it on first use.
func (c *Container) instance() (engine.Instance, error) {
	if c.inst != nil {
		return c.inst, nil
	}
	inst, err := c.deps.Engine.Get(c.spec.ID)
	if err != nil {
		return nil, err
	}
	c.inst = inst
	return inst, nil
}

// shell runs code through the container's login shell, attaching stdio when
// action output is enabled.
func (c *Container) shell(code string) (int, error) {
	inst, err := c.instance()
	if err != nil {
		return 0, err
	}
	return inst.Shell(c.spec.User, c.spec.Shell, code, c.deps.Output.Actions)
}

// ExecuteAction runs the named action's topmost frame. An unknown action
// logs and is not an error.
func (c *Container) ExecuteAction(action string, params map[string]string) error {
	stack, ok := c.spec.Actions[action]
	if !ok {
		c.Log("Action %q does not exist", action)
		return nil
	}
	c.Log("Execute action %q", action)
	return stack.Execute(c, params, -1)
}

// GetIP resolves the container's address on a device for IPv4 or IPv6. The
// whole network state is cached on first use and never invalidated within
// the invocation.
func (c *Container) GetIP(device string, ipVersion int) (string, error) {
	if device == "" {
		device = "eth0"
	}
	if c.ips == nil {
		if err := c.loadAddresses(); err != nil {
			return "", err
		}
	}
	key := fmt.Sprintf("%s:%d", device, ipVersion)
	if ip, ok := c.ips[key]; ok {
		return ip, nil
	}
	if c.devices[device] {
		return "", NoAddressError{Container: c.spec.ID, Device: device, IPVersion: ipVersion}
	}
	return "", NoSuchDeviceError{Container: c.spec.ID, Device: device}
}

func (c *Container) loadAddresses() error {
	inst, err := c.instance()
	if err != nil {
		return err
	}
	network, err := inst.Network()
	if err != nil {
		return err
	}
	c.ips = map[string]string{}
	c.devices = map[string]bool{}
	for dev, addresses := range network {
		c.devices[dev] = true
		for _, address := range addresses {
			var key string
			switch address.Family {
			case "inet", "inet4":
				key = dev + ":4"
			case "inet6":
				key = dev + ":6"
			default:
				continue
			}
			if _, ok := c.ips[key]; !ok {
				c.ips[key] = address.Address
			}
		}
	}
	return nil
}
