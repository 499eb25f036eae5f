package registry

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/benkle-apps/sergio/internal/container"
)

// document is the on-disk shape: everything lives under the container key.
type document struct {
	Container *definition `yaml:"container"`
}

// definition is one file's contribution before inheritance flattening.
type definition struct {
	Name        string                    `yaml:"name"`
	Description string                    `yaml:"description"`
	Box         string                    `yaml:"box"`
	Shell       string                    `yaml:"shell"`
	User        string                    `yaml:"user"`
	Extends     string                    `yaml:"extends"`
	Requires    []string                  `yaml:"requires"`
	Variables   map[string]string         `yaml:"variables"`
	Files       map[string]fileNode       `yaml:"files"`
	Mountpoints map[string]mountpointNode `yaml:"mountpoints"`
	Ports       []portNode                `yaml:"ports"`
	Actions     map[string]frameNode      `yaml:"actions"`
}

type mountpointNode struct {
	Source string `yaml:"source"`
	Path   string `yaml:"path"`
}

type portNode struct {
	Device   string `yaml:"device"`
	Protocol string `yaml:"protocol"`
	From     int    `yaml:"from"`
	To       int    `yaml:"to"`
	Comment  string `yaml:"comment"`
}

// fileNode resolves a files entry: a plain string payload or a !load
// reference.
type fileNode struct {
	source container.FileSource
}

func (f *fileNode) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!load" {
		if node.Kind == yaml.MappingNode {
			var ref struct {
				Filename string `yaml:"filename"`
				Bytes    bool   `yaml:"bytes"`
			}
			if err := node.Decode(&ref); err != nil {
				return err
			}
			f.source = container.LoadRef{Filename: ref.Filename, Bytes: ref.Bytes}
			return nil
		}
		f.source = container.LoadRef{Filename: strings.TrimSpace(node.Value)}
		return nil
	}
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: file payload must be a string or !load", node.Line)
	}
	f.source = container.Literal(node.Value)
	return nil
}

// frameNode resolves one action declaration into a frame of items.
type frameNode struct {
	items []container.Item
}

func (f *frameNode) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: action must be a sequence", node.Line)
	}
	f.items = make([]container.Item, 0, len(node.Content))
	for _, child := range node.Content {
		item, err := decodeItem(child)
		if err != nil {
			return err
		}
		f.items = append(f.items, item)
	}
	return nil
}

// decodeItem turns one tagged node into an action item. Plain strings are
// shell lines.
func decodeItem(node *yaml.Node) (container.Item, error) {
	switch node.Tag {
	case "!rpc":
		item, err := container.ParseRPC(strings.Fields(node.Value))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", node.Line, err)
		}
		return item, nil
	case "!df":
		item, err := container.ParseDumpFile(strings.Fields(node.Value))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", node.Line, err)
		}
		return item, nil
	case "!tf":
		item, err := container.ParseTransfer(strings.Fields(node.Value))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", node.Line, err)
		}
		return item, nil
	case "!rm":
		return &container.RemoveFile{Filename: strings.TrimSpace(node.Value)}, nil
	case "!cwd":
		return &container.Workdir{Path: strings.TrimSpace(node.Value)}, nil
	case "!echo":
		return &container.Echo{Text: node.Value}, nil
	case "!idle":
		return container.IdleMarker{}, nil
	case "!parent":
		return container.ParentMarker{}, nil
	}
	if node.Kind == yaml.ScalarNode && !strings.HasPrefix(node.Tag, "!") || node.Tag == "!!str" {
		return container.Shell(node.Value), nil
	}
	return nil, fmt.Errorf("line %d: unsupported action item %s", node.Line, node.Tag)
}

// merge flattens one inheritance step: the parent's merged spec plus this
// definition. Child values win; requires keeps child entries first; action
// stacks append child frames after parent frames.
func merge(id string, parent container.Spec, def *definition) container.Spec {
	spec := container.Spec{
		ID:          id,
		Name:        def.Name,
		Description: def.Description,
		Box:         coalesce(def.Box, parent.Box),
		Shell:       coalesce(def.Shell, parent.Shell),
		User:        coalesce(def.User, parent.User),
	}

	spec.Requires = append(append([]string(nil), def.Requires...), parent.Requires...)

	spec.Variables = map[string]string{}
	for key, value := range parent.Variables {
		spec.Variables[key] = value
	}
	for key, value := range def.Variables {
		spec.Variables[key] = value
	}

	spec.Files = map[string]container.FileSource{}
	for key, value := range parent.Files {
		spec.Files[key] = value
	}
	for key, value := range def.Files {
		spec.Files[key] = value.source
	}

	mountpoints := map[string]container.Mountpoint{}
	for _, mountpoint := range parent.Mountpoints {
		mountpoints[mountpoint.Name] = mountpoint
	}
	for name, mountpoint := range def.Mountpoints {
		mountpoints[name] = container.Mountpoint{Name: name, Source: mountpoint.Source, Path: mountpoint.Path}
	}
	names := make([]string, 0, len(mountpoints))
	for name := range mountpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec.Mountpoints = append(spec.Mountpoints, mountpoints[name])
	}

	for _, port := range def.Ports {
		spec.Ports = append(spec.Ports, container.Port{
			Device:   port.Device,
			Protocol: port.Protocol,
			From:     port.From,
			To:       port.To,
			Comment:  port.Comment,
		})
	}
	spec.Ports = append(spec.Ports, parent.Ports...)

	spec.Actions = map[string]*container.Stack{}
	for name, stack := range parent.Actions {
		spec.Actions[name] = stack
	}
	for name, frame := range def.Actions {
		child := container.NewStack(frame.items)
		if parentStack, ok := parent.Actions[name]; ok {
			spec.Actions[name] = parentStack.Append(child)
		} else {
			spec.Actions[name] = child
		}
	}

	return spec
}

func coalesce(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
