package container

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"go.uber.org/zap"
)

// backupTempPath is where the backup and restore actions exchange the
// archive with the host.
const backupTempPath = "/tmp/backup.zip"

const backupTimeLayout = "2006-01-02_15-04-05"

// Backup runs the backup action, pulls the archive it produced out of the
// container into the backups directory and re-points the latest symlink.
func (c *Container) Backup() error {
	if _, ok := c.spec.Actions["backup"]; !ok {
		c.Log("Action %q does not exist", "backup")
		return nil
	}
	running, err := c.IsRunning()
	if err != nil {
		return err
	}
	if !running {
		c.Log("Not running")
	}
	if err := c.ExecuteAction("backup", nil); err != nil {
		return err
	}
	inst, err := c.instance()
	if err != nil {
		return err
	}
	data, err := inst.FileGet(backupTempPath)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%s_%s.zip", c.spec.ID, c.deps.Now().Format(backupTimeLayout))
	target := filepath.Join(c.deps.BackupsDir, name)
	if err := os.WriteFile(target, data, 0644); err != nil {
		return err
	}
	if err := inst.FileDelete(backupTempPath); err != nil {
		c.deps.Logger.Debug("temp archive removal tolerated an error",
			zap.String("container", c.spec.ID),
			zap.Error(err))
	}
	link := filepath.Join(c.deps.BackupsDir, c.spec.ID+"_latest.zip")
	_ = os.Remove(link)
	if err := os.Symlink(name, link); err != nil {
		return err
	}
	c.Log("Backup written to %s", target)
	return nil
}

// Restore uploads a backup archive into the container and runs the restore
// action. Candidate sources, first hit wins: the given path as-is, the given
// path under the backups directory, the latest symlink, then the dated
// backups newest first.
func (c *Container) Restore(path string) error {
	if _, ok := c.spec.Actions["restore"]; !ok {
		c.Log("Action %q does not exist", "restore")
		return nil
	}
	running, err := c.IsRunning()
	if err != nil {
		return err
	}
	if !running {
		c.Log("Not running")
	}
	var candidates []string
	if path != "" {
		candidates = append(candidates, path, filepath.Join(c.deps.BackupsDir, path))
	}
	candidates = append(candidates, filepath.Join(c.deps.BackupsDir, c.spec.ID+"_latest.zip"))
	candidates = append(candidates, c.datedBackups()...)

	var data []byte
	source := ""
	for _, candidate := range candidates {
		if content, err := os.ReadFile(candidate); err == nil {
			data, source = content, candidate
			break
		}
	}
	if source == "" {
		return FileNotFoundError{Name: c.spec.ID + " backup"}
	}
	c.Log("Restoring from %s", source)
	inst, err := c.instance()
	if err != nil {
		return err
	}
	if err := inst.FilePut(backupTempPath, data, 0644); err != nil {
		return err
	}
	if err := c.ExecuteAction("restore", nil); err != nil {
		c.deps.Logger.Warn("swallowed error during restore",
			zap.String("container", c.spec.ID),
			zap.Error(err))
	}
	if err := inst.FileDelete(backupTempPath); err != nil {
		c.deps.Logger.Debug("temp archive removal tolerated an error",
			zap.String("container", c.spec.ID),
			zap.Error(err))
	}
	return nil
}

// datedBackups lists the container's timestamped archives, newest first.
func (c *Container) datedBackups() []string {
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(c.spec.ID) + `_[0-9]{4}([-_][0-9]{2}){5}\.zip$`)
	entries, err := os.ReadDir(c.deps.BackupsDir)
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if pattern.MatchString(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	paths := make([]string, 0, len(names))
	for i := len(names) - 1; i >= 0; i-- {
		paths = append(paths, filepath.Join(c.deps.BackupsDir, names[i]))
	}
	return paths
}

// Download copies a file out of the container. A dash writes to standard
// output.
func (c *Container) Download(src, dst string) error {
	inst, err := c.instance()
	if err != nil {
		return err
	}
	data, err := inst.FileGet(src)
	if err != nil {
		return err
	}
	if dst == "-" {
		_, err = c.deps.Stdout.Write(data)
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

// Upload copies a file into the container and hands it to the container's
// user. A dash reads from standard input.
func (c *Container) Upload(src, dst string) error {
	var data []byte
	var err error
	if src == "-" {
		data, err = io.ReadAll(c.deps.Stdin)
	} else {
		data, err = os.ReadFile(src)
	}
	if err != nil {
		return err
	}
	inst, err := c.instance()
	if err != nil {
		return err
	}
	if err := inst.FilePut(dst, data, 0644); err != nil {
		return err
	}
	_, err = c.shell(fmt.Sprintf("chown %s:%s %s", c.spec.User, c.spec.User, dst))
	return err
}
