package container

import (
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"
)

// Item is one entry of an action frame.
type Item interface {
	Run(c *Container, params map[string]string) error
}

// IdleMarker makes the rest of the current frame tolerate non-zero shell
// exits. Interpreted by the stack executor.
type IdleMarker struct{}

// Run is a no-op; the marker is consumed by Stack.Execute.
func (IdleMarker) Run(*Container, map[string]string) error { return nil }

// ParentMarker delegates to the frame one level shallower. Interpreted by
// the stack executor.
type ParentMarker struct{}

// Run is a no-op; the marker is consumed by Stack.Execute.
func (ParentMarker) Run(*Container, map[string]string) error { return nil }

// Shell is a command line run in the container's login shell. With a
// transient workdir set it is prefixed with a cd into it.
type Shell string

func (s Shell) exec(c *Container, params map[string]string) (int, error) {
	line := c.deps.Template.Apply(string(s), c.spec.Variables, params)
	c.Log("%s", line)
	if c.workdir != "" {
		line = fmt.Sprintf("cd %s; %s", c.workdir, line)
	}
	return c.shell(line)
}

// Run executes the line without idle tolerance.
func (s Shell) Run(c *Container, params map[string]string) error {
	exit, err := s.exec(c, params)
	if err != nil {
		return err
	}
	if exit != 0 {
		return ExecutionError{Line: string(s), Exit: exit}
	}
	return nil
}

// RPC re-enters the action executor on a possibly different container with a
// fresh parameter scope.
type RPC struct {
	Target string
	Action string
	Params map[string]string
}

// ParseRPC builds an RPC from a space-separated argument vector: target
// (or "self"), action, then key=value pairs split on the first equals sign.
func ParseRPC(args []string) (*RPC, error) {
	var fields []string
	for _, arg := range args {
		if arg != "" {
			fields = append(fields, arg)
		}
	}
	if len(fields) < 2 {
		return nil, fmt.Errorf("rpc needs a target and an action, got %q", strings.Join(args, " "))
	}
	rpc := &RPC{Target: fields[0], Action: fields[1], Params: map[string]string{}}
	for _, pair := range fields[2:] {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("rpc parameter %q is not key=value", pair)
		}
		rpc.Params[key] = value
	}
	return rpc, nil
}

// Run resolves the target, expands the parameter values against the caller's
// scopes, overlays the reserved caller key and executes the action.
func (r *RPC) Run(c *Container, params map[string]string) error {
	target := c
	if r.Target != "self" {
		var err error
		if target, err = c.deps.Registry.Get(r.Target); err != nil {
			return err
		}
	}
	expanded := make(map[string]string, len(r.Params)+1)
	for key, value := range r.Params {
		expanded[key] = c.deps.Template.Apply(value, c.spec.Variables, params)
	}
	expanded["caller"] = c.spec.ID
	return target.ExecuteAction(r.Action, expanded)
}

// DumpFile writes an embedded payload from the files mapping into the
// container.
type DumpFile struct {
	Filename string
	Chown    string
	Chmod    string
}

// ParseDumpFile builds a DumpFile from tokens: optional leading chown= and
// chmod= settings, then the filename (remaining tokens joined).
func ParseDumpFile(args []string) (*DumpFile, error) {
	item := &DumpFile{}
	rest := args
	for len(rest) > 0 {
		switch {
		case strings.HasPrefix(rest[0], "chown="):
			item.Chown = strings.TrimPrefix(rest[0], "chown=")
		case strings.HasPrefix(rest[0], "chmod="):
			item.Chmod = strings.TrimPrefix(rest[0], "chmod=")
		default:
			item.Filename = strings.Join(rest, " ")
			return item, nil
		}
		rest = rest[1:]
	}
	return nil, fmt.Errorf("dump-file needs a filename, got %q", strings.Join(args, " "))
}

// Run expands the target path, looks the payload up under the unexpanded
// key, writes it through the engine file API and applies ownership and mode.
func (d *DumpFile) Run(c *Container, params map[string]string) error {
	filename := c.deps.Template.Apply(d.Filename, c.spec.Variables, params)
	c.Log("Dropping file %s", filename)
	inst, err := c.instance()
	if err != nil {
		return err
	}
	if _, err := inst.Exec([]string{"mkdir", "-p", path.Dir(filename)}); err != nil {
		return err
	}
	source, ok := c.spec.Files[d.Filename]
	if !ok {
		return FileNotFoundError{Name: d.Filename}
	}
	data, err := source.Content(c, params)
	if err != nil {
		return err
	}
	if err := inst.FilePut(filename, data, 0644); err != nil {
		return err
	}
	chown := d.Chown
	if chown == "" {
		chown = fmt.Sprintf("%s:%s", c.spec.User, c.spec.User)
	}
	chmod := d.Chmod
	if chmod == "" {
		chmod = "0755"
	}
	if _, err := c.shell(fmt.Sprintf("chown %s %s", chown, filename)); err != nil {
		return err
	}
	if _, err := c.shell(fmt.Sprintf("chmod %s %s", chmod, filename)); err != nil {
		return err
	}
	return nil
}

// Transfer copies a file between the current container and another one.
// Down copies from the other container into the current one, up the other
// way around.
type Transfer struct {
	Up    bool
	Other string
	Src   string
	Dst   string
}

// ParseTransfer builds a Transfer from tokens: direction, other container
// id, source path, target path.
func ParseTransfer(args []string) (*Transfer, error) {
	if len(args) != 4 {
		return nil, fmt.Errorf("transfer needs direction, container, source and target, got %q", strings.Join(args, " "))
	}
	item := &Transfer{Other: args[1], Src: args[2], Dst: args[3]}
	switch args[0] {
	case "d", "down", "<":
		item.Up = false
	case "u", "up", ">":
		item.Up = true
	default:
		return nil, BadDirectionError{Token: args[0]}
	}
	return item, nil
}

// Run copies the file. Both containers must be running; the destination file
// is chowned to the destination container's user.
func (t *Transfer) Run(c *Container, params map[string]string) error {
	other, err := c.deps.Registry.Get(t.Other)
	if err != nil {
		return err
	}
	for _, side := range []*Container{c, other} {
		running, err := side.IsRunning()
		if err != nil {
			return err
		}
		if !running {
			return fmt.Errorf("transfer with %s: %w", side.spec.ID, ErrNotRunning)
		}
	}
	src := c.deps.Template.Apply(t.Src, c.spec.Variables, params)
	dst := c.deps.Template.Apply(t.Dst, c.spec.Variables, params)
	from, to := other, c
	if t.Up {
		from, to = c, other
	}
	c.Log("Copying %s:%s to %s:%s", from.spec.ID, src, to.spec.ID, dst)
	fromInst, err := from.instance()
	if err != nil {
		return err
	}
	data, err := fromInst.FileGet(src)
	if err != nil {
		return err
	}
	toInst, err := to.instance()
	if err != nil {
		return err
	}
	if err := toInst.FilePut(dst, data, 0644); err != nil {
		return err
	}
	_, err = to.shell(fmt.Sprintf("chown %s:%s %s", to.spec.User, to.spec.User, dst))
	return err
}

// RemoveFile deletes a file inside the container. A missing file is not an
// error.
type RemoveFile struct {
	Filename string
}

// Run deletes the expanded filename through the engine file API.
func (r *RemoveFile) Run(c *Container, params map[string]string) error {
	filename := c.deps.Template.Apply(r.Filename, c.spec.Variables, params)
	c.Log("Removing file %s", filename)
	inst, err := c.instance()
	if err != nil {
		return err
	}
	if err := inst.FileDelete(filename); err != nil {
		c.deps.Logger.Debug("file removal tolerated an error",
			zap.String("container", c.spec.ID),
			zap.String("file", filename),
			zap.Error(err))
	}
	return nil
}

// Workdir sets the transient working directory for subsequent shell items
// of the invocation.
type Workdir struct {
	Path string
}

// Run expands the path and stores it on the container.
func (w *Workdir) Run(c *Container, params map[string]string) error {
	c.workdir = c.deps.Template.Apply(w.Path, c.spec.Variables, params)
	return nil
}

// Echo emits a log line and has no effect on the container.
type Echo struct {
	Text string
}

// Run expands the text and logs it.
func (e *Echo) Run(c *Container, params map[string]string) error {
	c.Log("%s", c.deps.Template.Apply(e.Text, c.spec.Variables, params))
	return nil
}
