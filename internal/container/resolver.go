package container

// LaunchOrder computes a total order over the transitive closure of the
// container's requirements, excluding the container itself. Every id in the
// result appears after all of its own requirements. Insertion order during
// expansion breaks ties, so the order is deterministic. A cycle surfaces as
// ErrUnresolvable.
func (c *Container) LaunchOrder() ([]string, error) {
	pending := map[string][]string{}
	var seen []string

	add := func(id string) error {
		if _, ok := pending[id]; ok {
			return nil
		}
		requirement, err := c.deps.Registry.Get(id)
		if err != nil {
			return err
		}
		pending[id] = append([]string(nil), requirement.spec.Requires...)
		seen = append(seen, id)
		return nil
	}

	for _, id := range c.spec.Requires {
		if err := add(id); err != nil {
			return nil, err
		}
	}

	for changed := true; changed; {
		changed = false
		for _, id := range append([]string(nil), seen...) {
			for _, requirement := range pending[id] {
				if _, ok := pending[requirement]; !ok {
					if err := add(requirement); err != nil {
						return nil, err
					}
					changed = true
				}
			}
		}
	}

	var order []string
	for len(pending) > 0 {
		launchable := ""
		for _, id := range seen {
			if requirements, ok := pending[id]; ok && len(requirements) == 0 {
				launchable = id
				break
			}
		}
		if launchable == "" {
			return nil, ErrUnresolvable
		}
		order = append(order, launchable)
		delete(pending, launchable)
		for id, requirements := range pending {
			pending[id] = strike(requirements, launchable)
		}
	}
	return order, nil
}

// strike removes every occurrence of value from list.
func strike(list []string, value string) []string {
	result := list[:0]
	for _, entry := range list {
		if entry != value {
			result = append(result, entry)
		}
	}
	return result
}
