// Package lxd adapts a local LXD daemon to the engine contract.
//
// State queries, file transfer and non-interactive execution go through the
// REST API; launching an image and the interactive shell spawn the lxc
// binary, which owns image-alias resolution and terminal handling.
package lxd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	client "github.com/canonical/lxd/client"
	"github.com/canonical/lxd/shared/api"
	"go.uber.org/zap"

	"github.com/benkle-apps/sergio/internal/engine"
)

// Engine talks to the LXD daemon on the local unix socket.
type Engine struct {
	server client.InstanceServer
	logger *zap.Logger
}

var _ engine.Engine = (*Engine)(nil)

// Connect dials the local daemon.
func Connect(logger *zap.Logger) (*Engine, error) {
	server, err := client.ConnectLXDUnix("", nil)
	if err != nil {
		return nil, fmt.Errorf("connect to lxd: %w", err)
	}
	return &Engine{server: server, logger: logger}, nil
}

// Exists reports whether the daemon knows an instance with the given id.
func (e *Engine) Exists(id string) (bool, error) {
	names, err := e.server.GetInstanceNames(api.InstanceTypeAny)
	if err != nil {
		return false, err
	}
	for _, name := range names {
		if name == id {
			return true, nil
		}
	}
	return false, nil
}

// Launch creates and starts an instance from an image via the lxc binary.
func (e *Engine) Launch(image, id string) error {
	e.logger.Debug("launching instance", zap.String("image", image), zap.String("id", id))
	cmd := exec.Command("lxc", "launch", image, id, "-v")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Delete force-removes an instance.
func (e *Engine) Delete(id string) error {
	e.logger.Debug("deleting instance", zap.String("id", id))
	cmd := exec.Command("lxc", "delete", id, "-f")
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Get returns a handle for an instance.
func (e *Engine) Get(id string) (engine.Instance, error) {
	return &instance{server: e.server, id: id, logger: e.logger}, nil
}

type instance struct {
	server client.InstanceServer
	id     string
	logger *zap.Logger

	cached *api.Instance
	etag   string
}

func (i *instance) Status() (string, error) {
	state, _, err := i.server.GetInstanceState(i.id)
	if err != nil {
		return "", err
	}
	return state.Status, nil
}

func (i *instance) changeState(action string) error {
	op, err := i.server.UpdateInstanceState(i.id, api.InstanceStatePut{Action: action, Timeout: -1}, "")
	if err != nil {
		return err
	}
	return op.Wait()
}

func (i *instance) Start() error { return i.changeState("start") }

func (i *instance) Stop() error { return i.changeState("stop") }

func (i *instance) load() error {
	if i.cached != nil {
		return nil
	}
	inst, etag, err := i.server.GetInstance(i.id)
	if err != nil {
		return err
	}
	i.cached, i.etag = inst, etag
	return nil
}

func (i *instance) Devices() (map[string]map[string]string, error) {
	if err := i.load(); err != nil {
		return nil, err
	}
	return i.cached.Devices, nil
}

func (i *instance) SetDevice(name string, device map[string]string) error {
	if err := i.load(); err != nil {
		return err
	}
	if i.cached.Devices == nil {
		i.cached.Devices = map[string]map[string]string{}
	}
	i.cached.Devices[name] = device
	return nil
}

func (i *instance) Save() error {
	if i.cached == nil {
		return nil
	}
	op, err := i.server.UpdateInstance(i.id, i.cached.Writable(), i.etag)
	if err != nil {
		return err
	}
	if err := op.Wait(); err != nil {
		return err
	}
	i.cached = nil
	return nil
}

func (i *instance) Network() (map[string][]engine.Address, error) {
	state, _, err := i.server.GetInstanceState(i.id)
	if err != nil {
		return nil, err
	}
	result := make(map[string][]engine.Address, len(state.Network))
	for device, network := range state.Network {
		addresses := make([]engine.Address, 0, len(network.Addresses))
		for _, address := range network.Addresses {
			addresses = append(addresses, engine.Address{
				Family:  address.Family,
				Address: address.Address,
			})
		}
		result[device] = addresses
	}
	return result, nil
}

func (i *instance) FileGet(path string) ([]byte, error) {
	reader, _, err := i.server.GetInstanceFile(i.id, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()
	return io.ReadAll(reader)
}

func (i *instance) FilePut(path string, data []byte, mode os.FileMode) error {
	return i.server.CreateInstanceFile(i.id, path, client.InstanceFileArgs{
		Content:   bytes.NewReader(data),
		Mode:      int(mode.Perm()),
		Type:      "file",
		WriteMode: "overwrite",
	})
}

func (i *instance) FileDelete(path string) error {
	return i.server.DeleteInstanceFile(i.id, path)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// Exec runs a command through the API exec channel and returns its exit
// code. Output is discarded.
func (i *instance) Exec(argv []string) (int, error) {
	dataDone := make(chan bool)
	op, err := i.server.ExecInstance(i.id, api.InstanceExecPost{
		Command:   argv,
		WaitForWS: true,
	}, &client.InstanceExecArgs{
		Stdout:   nopWriteCloser{io.Discard},
		Stderr:   nopWriteCloser{io.Discard},
		DataDone: dataDone,
	})
	if err != nil {
		return 0, err
	}
	if err := op.Wait(); err != nil {
		return 0, err
	}
	<-dataDone
	code, ok := op.Get().Metadata["return"].(float64)
	if !ok {
		return 0, fmt.Errorf("exec of %v returned no exit code", argv)
	}
	return int(code), nil
}

// Shell spawns lxc exec with a login shell for the given user, running code
// when given and an interactive shell otherwise. With attach set (always,
// for interactive use) the process inherits the terminal.
func (i *instance) Shell(user, shell, code string, attach bool) (int, error) {
	argv := []string{"exec", i.id, "--", "sudo", "--login", "--user", user, shell}
	if code != "" {
		argv = append(argv, "-c", code)
	}
	cmd := exec.Command("lxc", argv...)
	if attach || code == "" {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}
