// Package engine defines the contract between the provisioner core and the
// container engine. The core never talks to the engine transport directly;
// it depends on these interfaces and the adapter in internal/lxd fulfils
// them against a local LXD daemon.
package engine

import "os"

// StatusRunning is the engine's status string for a running instance.
const StatusRunning = "Running"

// Address is one address reported for a network device inside an instance.
type Address struct {
	Family  string // "inet" or "inet6"
	Address string
}

// Engine is the container-engine entry point.
type Engine interface {
	// Exists reports whether an instance with the given id is known to
	// the engine.
	Exists(id string) (bool, error)

	// Launch creates and starts a new instance from an image. It blocks
	// until the instance is up.
	Launch(image, id string) error

	// Get returns a handle for an existing instance.
	Get(id string) (Instance, error)

	// Delete removes an instance, stopping it first if necessary.
	Delete(id string) error
}

// Instance is a handle to one container. File paths are paths inside the
// container. Exec runs a non-interactive command through the engine API and
// reports the exit code; Shell spawns the engine's exec channel with a login
// shell, optionally attached to the terminal, and is the only way to get
// interactive stdio.
type Instance interface {
	Status() (string, error)
	Start() error
	Stop() error

	Devices() (map[string]map[string]string, error)
	SetDevice(name string, device map[string]string) error
	Save() error

	Network() (map[string][]Address, error)

	FileGet(path string) ([]byte, error)
	FilePut(path string, data []byte, mode os.FileMode) error
	FileDelete(path string) error

	Exec(argv []string) (int, error)
	Shell(user, shell, code string, attach bool) (int, error)
}
