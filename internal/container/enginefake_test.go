package container

import (
	"bytes"
	"fmt"
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/benkle-apps/sergio/internal/engine"
	"github.com/benkle-apps/sergio/internal/iptables"
	"github.com/benkle-apps/sergio/internal/template"
)

// fakeInstance records every engine call made against one container.
type fakeInstance struct {
	id     string
	status string

	devices map[string]map[string]string
	network map[string][]engine.Address
	files   map[string][]byte

	startCalls int
	stopCalls  int
	saveCalls  int
	execs      [][]string
	shells     []string

	shellExit func(code string) int
	fileErr   error

	engine *fakeEngine
}

func (f *fakeInstance) Status() (string, error) { return f.status, nil }

func (f *fakeInstance) Start() error {
	f.startCalls++
	f.status = engine.StatusRunning
	f.engine.startOrder = append(f.engine.startOrder, f.id)
	return nil
}

func (f *fakeInstance) Stop() error {
	f.stopCalls++
	f.status = "Stopped"
	return nil
}

func (f *fakeInstance) Devices() (map[string]map[string]string, error) {
	if f.devices == nil {
		f.devices = map[string]map[string]string{}
	}
	return f.devices, nil
}

func (f *fakeInstance) SetDevice(name string, device map[string]string) error {
	if f.devices == nil {
		f.devices = map[string]map[string]string{}
	}
	f.devices[name] = device
	return nil
}

func (f *fakeInstance) Save() error {
	f.saveCalls++
	return nil
}

func (f *fakeInstance) Network() (map[string][]engine.Address, error) {
	return f.network, nil
}

func (f *fakeInstance) FileGet(path string) ([]byte, error) {
	if f.fileErr != nil {
		return nil, f.fileErr
	}
	data, ok := f.files[path]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return data, nil
}

func (f *fakeInstance) FilePut(path string, data []byte, _ os.FileMode) error {
	if f.files == nil {
		f.files = map[string][]byte{}
	}
	f.files[path] = data
	return nil
}

func (f *fakeInstance) FileDelete(path string) error {
	if _, ok := f.files[path]; !ok {
		return engine.ErrNotFound
	}
	delete(f.files, path)
	return nil
}

func (f *fakeInstance) Exec(argv []string) (int, error) {
	f.execs = append(f.execs, argv)
	return 0, nil
}

func (f *fakeInstance) Shell(_, _, code string, _ bool) (int, error) {
	f.shells = append(f.shells, code)
	if f.shellExit != nil {
		return f.shellExit(code), nil
	}
	return 0, nil
}

// fakeEngine is an in-memory engine shared by a test's containers.
type fakeEngine struct {
	instances  map[string]*fakeInstance
	launches   [][2]string
	deletions  []string
	startOrder []string
	launchErr  error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{instances: map[string]*fakeInstance{}}
}

// instance registers a container with the engine. Status defaults to
// stopped.
func (f *fakeEngine) instance(id, status string) *fakeInstance {
	inst := &fakeInstance{id: id, status: status, engine: f}
	f.instances[id] = inst
	return inst
}

func (f *fakeEngine) Exists(id string) (bool, error) {
	_, ok := f.instances[id]
	return ok, nil
}

func (f *fakeEngine) Launch(image, id string) error {
	if f.launchErr != nil {
		return f.launchErr
	}
	f.launches = append(f.launches, [2]string{image, id})
	f.instance(id, engine.StatusRunning)
	return nil
}

func (f *fakeEngine) Get(id string) (engine.Instance, error) {
	inst, ok := f.instances[id]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return inst, nil
}

func (f *fakeEngine) Delete(id string) error {
	f.deletions = append(f.deletions, id)
	delete(f.instances, id)
	return nil
}

// fakeRunner records iptables invocations.
type fakeRunner struct {
	listing string
	calls   [][]string
}

func (f *fakeRunner) Output(name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return []byte(f.listing), nil
}

func (f *fakeRunner) Run(name string, args ...string) error {
	f.calls = append(f.calls, append([]string{name}, args...))
	return nil
}

// mapRegistry is a pre-populated registry for lifecycle tests.
type mapRegistry struct {
	containers map[string]*Container
}

func (m *mapRegistry) Has(id string) bool {
	_, ok := m.containers[id]
	return ok
}

func (m *mapRegistry) Get(id string) (*Container, error) {
	c, ok := m.containers[id]
	if !ok {
		return nil, fmt.Errorf("no definition for %s", id)
	}
	return c, nil
}

// fixture wires a fake engine, registry and iptables runner together.
type fixture struct {
	t       *testing.T
	eng     *fakeEngine
	reg     *mapRegistry
	runner  *fakeRunner
	deps    Deps
	out     *bytes.Buffer
	in      *bytes.Buffer
	backups string
}

func newFixture(t *testing.T, globals map[string]string) *fixture {
	f := &fixture{
		t:       t,
		eng:     newFakeEngine(),
		reg:     &mapRegistry{containers: map[string]*Container{}},
		runner:  &fakeRunner{},
		out:     &bytes.Buffer{},
		in:      &bytes.Buffer{},
		backups: t.TempDir(),
	}
	logger := zaptest.NewLogger(t)
	f.deps = Deps{
		Registry:   f.reg,
		Engine:     f.eng,
		Rules:      iptables.NewWithRunner(f.runner, logger),
		Template:   template.New(globals),
		Logger:     logger,
		Output:     Output{Log: true},
		BackupsDir: f.backups,
		Sleep:      func(time.Duration) {},
		Now: func() time.Time {
			return time.Date(2024, 5, 17, 9, 30, 15, 0, time.UTC)
		},
		Stdout: &bytes.Buffer{},
		Stdin:  &bytes.Buffer{},
	}
	f.deps.Stdout = f.out
	f.deps.Stdin = f.in
	return f
}

// add builds a container from the spec and registers it.
func (f *fixture) add(spec Spec) *Container {
	c := New(spec, f.deps)
	f.reg.containers[spec.ID] = c
	return c
}
