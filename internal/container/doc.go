// Package container holds the provisioner core: the merged in-memory
// container model, the dependency resolver, the action stack with its
// polymorphic items, and the lifecycle verbs.
//
// A Container is built once per id and per invocation from the flattened
// definition (see internal/registry) and carries the per-invocation mutable
// state: the transient working directory, the IP cache and the engine
// instance handle. Definitions themselves are immutable after the merge.
//
// # Action stacks
//
// Each named action is a stack of frames, one frame per definition in the
// inheritance chain that declares the action, parent frames first. Execution starts at the topmost
// frame; a parent marker recurses into the frame one level shallower, an
// idle marker makes the rest of the current frame tolerate non-zero shell
// exits.
//
// # Lifecycle
//
// The verbs compose the registry, the resolver, the action stack, the
// engine contract and the host NAT rules:
//
//	c, _ := reg.Get("web")
//	if err := c.Start(true); err != nil { ... }
//
// All operations are synchronous; a fatal error aborts the run except where
// a verb is explicitly best-effort (Destroy's pre-delete steps, Restore's
// action, file removal).
package container
