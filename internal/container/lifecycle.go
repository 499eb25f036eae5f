package container

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/benkle-apps/sergio/internal/engine"
)

// Create launches the container from its image, mounts, publishes ports and
// runs the create and start actions. With recursive set, missing
// prerequisites are created and stopped ones started.
func (c *Container) Create(recursive bool) error {
	exists, err := c.Exists()
	if err != nil {
		return err
	}
	if exists {
		c.Log("Already exists")
		return nil
	}
	if err := c.checkRequirements(recursive, recursive); err != nil {
		return err
	}
	c.Log("Create new container %s from %s", c.spec.ID, c.spec.Box)
	if err := c.deps.Engine.Launch(c.spec.Box, c.spec.ID); err != nil {
		c.Log("Creation failed")
		return engine.LaunchError{Image: c.spec.Box, ID: c.spec.ID, Err: err}
	}
	if err := c.mount(); err != nil {
		return err
	}
	c.Log("Waiting for network to calm down")
	c.deps.Sleep(quiescenceDelay)
	if err := c.Nat(); err != nil {
		return err
	}
	if err := c.ExecuteAction("create", nil); err != nil {
		return err
	}
	if err := c.ExecuteAction("start", nil); err != nil {
		return err
	}
	c.Log("Done")
	return nil
}

// Start brings a stopped container up and runs the start action. With
// recursive set, stopped prerequisites are started first, in launch order.
func (c *Container) Start(recursive bool) error {
	running, err := c.IsRunning()
	if err != nil {
		return err
	}
	if running {
		c.Log("Already running")
		return nil
	}
	if err := c.checkRequirements(recursive, false); err != nil {
		return err
	}
	inst, err := c.instance()
	if err != nil {
		return err
	}
	c.Log("Starting...")
	if err := inst.Start(); err != nil {
		return err
	}
	c.Log("Waiting for network to calm down")
	c.deps.Sleep(quiescenceDelay)
	if err := c.Nat(); err != nil {
		return err
	}
	if err := c.ExecuteAction("start", nil); err != nil {
		return err
	}
	c.Log("Done")
	return nil
}

// Stop runs the stop action, withdraws the NAT rules and stops the
// container.
func (c *Container) Stop() error {
	running, err := c.IsRunning()
	if err != nil {
		return err
	}
	if !running {
		c.Log("Is not running")
		return nil
	}
	c.Log("Stopping...")
	if err := c.ExecuteAction("stop", nil); err != nil {
		return err
	}
	if err := c.Denat(); err != nil {
		return err
	}
	inst, err := c.instance()
	if err != nil {
		return err
	}
	if err := inst.Stop(); err != nil {
		return err
	}
	c.Log("Done")
	return nil
}

// Destroy tears the container down and deletes it. Everything before the
// engine delete is best-effort: errors are logged and swallowed so a broken
// container can still be removed.
func (c *Container) Destroy() error {
	swallow := func(step string, err error) {
		if err != nil {
			c.deps.Logger.Warn("swallowed error during destroy",
				zap.String("container", c.spec.ID),
				zap.String("step", step),
				zap.Error(err))
		}
	}
	running, err := c.IsRunning()
	swallow("state query", err)
	if _, ok := c.spec.Actions["destroy"]; ok && !running {
		swallow("start for destroy action", c.Start(true))
		running, err = c.IsRunning()
		swallow("state query", err)
	}
	if running {
		swallow("stop action", c.ExecuteAction("stop", nil))
		swallow("denat", c.Denat())
	}
	swallow("destroy action", c.ExecuteAction("destroy", nil))
	return c.deps.Engine.Delete(c.spec.ID)
}

// Nat publishes every declared port, replacing any existing rules for the
// same destination ports. A no-op when the container is not running.
func (c *Container) Nat() error {
	running, err := c.IsRunning()
	if err != nil {
		return err
	}
	if !running {
		c.Log("Container not running, no NAT needed")
		return nil
	}
	for _, port := range c.spec.Ports {
		for _, ipVersion := range []int{4, 6} {
			ip, err := c.GetIP(port.Device, ipVersion)
			if err != nil {
				var missing NoAddressError
				if errors.As(err, &missing) {
					c.deps.Logger.Debug("skipping forward, no address",
						zap.String("container", c.spec.ID),
						zap.String("device", port.Device),
						zap.Int("ipVersion", ipVersion))
					continue
				}
				return err
			}
			c.Log("Forwarding %d to %s:%d (%s)", port.To, ip, port.From, port.Device)
			if err := c.deps.Rules.DeleteForward(ipVersion, port.To); err != nil {
				return err
			}
			if err := c.deps.Rules.CreateForward(ipVersion, port.Protocol, port.To, ip, port.From, port.Comment); err != nil {
				return err
			}
		}
	}
	return nil
}

// Denat withdraws the forwarding rules of every declared port.
func (c *Container) Denat() error {
	for _, port := range c.spec.Ports {
		c.Log("Removing forward from %d (%s)", port.To, port.Device)
		for _, ipVersion := range []int{4, 6} {
			if err := c.deps.Rules.DeleteForward(ipVersion, port.To); err != nil {
				return err
			}
		}
	}
	return nil
}

// Login opens an interactive login shell in the container, optionally in the
// given directory.
func (c *Container) Login(dir string) error {
	running, err := c.IsRunning()
	if err != nil {
		return err
	}
	if !running {
		c.Log("Not running")
		return nil
	}
	if dir != "" {
		c.workdir = dir
	}
	code := ""
	if c.workdir != "" {
		code = fmt.Sprintf("cd %s; exec %s", c.workdir, c.spec.Shell)
	}
	inst, err := c.instance()
	if err != nil {
		return err
	}
	_, err = inst.Shell(c.spec.User, c.spec.Shell, code, true)
	return err
}

// checkRequirements walks the launch order and verifies every prerequisite
// exists and runs, creating or starting them when the flags permit.
func (c *Container) checkRequirements(canStart, canCreate bool) error {
	order, err := c.LaunchOrder()
	if err != nil {
		return err
	}
	okay := true
	for _, id := range order {
		requirement, err := c.deps.Registry.Get(id)
		if err != nil {
			return err
		}
		exists, err := requirement.Exists()
		if err != nil {
			return err
		}
		if !exists {
			if canCreate {
				if err := requirement.CreateOrStart(true); err != nil {
					return err
				}
				continue
			}
			c.Log("Requires %s (%s), but it does not exist", requirement.spec.Name, id)
			okay = false
			continue
		}
		running, err := requirement.IsRunning()
		if err != nil {
			return err
		}
		if !running {
			if canStart {
				if err := requirement.Start(false); err != nil {
					return err
				}
				continue
			}
			c.Log("Requires %s (%s), but it is not running", requirement.spec.Name, id)
			okay = false
		}
	}
	if !okay {
		c.Log("Requirements not met")
		return RequirementsError{ID: c.spec.ID}
	}
	return nil
}

// CreateOrStart creates the container when it does not exist, starts it
// when it is stopped and does nothing when it already runs.
func (c *Container) CreateOrStart(recursive bool) error {
	exists, err := c.Exists()
	if err != nil {
		return err
	}
	if !exists {
		return c.Create(recursive)
	}
	running, err := c.IsRunning()
	if err != nil {
		return err
	}
	if !running {
		return c.Start(recursive)
	}
	return nil
}

// mount attaches every declared mountpoint that is not present yet and
// saves the instance when anything changed.
func (c *Container) mount() error {
	if len(c.spec.Mountpoints) == 0 {
		return nil
	}
	inst, err := c.instance()
	if err != nil {
		return err
	}
	devices, err := inst.Devices()
	if err != nil {
		return err
	}
	changed := false
	for _, mountpoint := range c.spec.Mountpoints {
		if _, ok := devices[mountpoint.Name]; ok {
			continue
		}
		c.Log("Mounting %s", mountpoint.Name)
		err := inst.SetDevice(mountpoint.Name, map[string]string{
			"type":   "disk",
			"source": mountpoint.Source,
			"path":   mountpoint.Path,
		})
		if err != nil {
			return err
		}
		changed = true
	}
	if !changed {
		return nil
	}
	return inst.Save()
}
