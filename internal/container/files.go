package container

import (
	"os"
	"path/filepath"
)

// FileSource yields the bytes for one entry of the files mapping.
type FileSource interface {
	Content(c *Container, params map[string]string) ([]byte, error)
}

// Literal is an inline payload from the definition. It is template-expanded
// when used.
type Literal string

// Content expands the literal against the container and invocation scopes.
func (l Literal) Content(c *Container, params map[string]string) ([]byte, error) {
	return []byte(c.deps.Template.Apply(string(l), c.spec.Variables, params)), nil
}

// LoadRef is a deferred file read. The filename is resolved on use against
// the current directory, the config directory and the definitions directory,
// in that order. Text payloads are returned as UTF-8 bytes, binary payloads
// verbatim; neither is template-expanded.
type LoadRef struct {
	Filename string
	Bytes    bool
}

// Content reads the referenced file.
func (r LoadRef) Content(c *Container, _ map[string]string) ([]byte, error) {
	path, err := r.resolve(c)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (r LoadRef) resolve(c *Container) (string, error) {
	candidates := []string{
		r.Filename,
		filepath.Join(c.deps.ConfigDir, r.Filename),
		filepath.Join(c.deps.DefinitionsDir, r.Filename),
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", FileNotFoundError{Name: r.Filename}
}
