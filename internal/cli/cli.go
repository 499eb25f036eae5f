// Package cli wires the cobra command line to the provisioner core.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/benkle-apps/sergio/internal/config"
	"github.com/benkle-apps/sergio/internal/container"
	"github.com/benkle-apps/sergio/internal/iptables"
	"github.com/benkle-apps/sergio/internal/lxd"
	"github.com/benkle-apps/sergio/internal/registry"
	"github.com/benkle-apps/sergio/internal/template"
)

var (
	outputMode string
	configPath string
	recursive  bool
)

// errStatus marks a non-zero exit that was already reported through the
// regular log lines, like the running verb on a stopped container.
var errStatus = errors.New("status check failed")

// errReported marks an error that was already printed with its container
// label, so Execute only sets the exit code.
var errReported = errors.New("already reported")

var rootCmd = &cobra.Command{
	Use:   "sergio CONTAINER VERB [PARAMS...]",
	Short: "Declarative provisioner and lifecycle manager for LXD containers",
	Long: `sergio realizes a verb against a container described by a YAML
definition, transitively starting or creating its prerequisites. Unknown
verbs run the action of that name on the container, with PARAMS as
key=value assignments.`,
	Args: cobra.MinimumNArgs(2),
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVarP(&outputMode, "output", "o", "both", "output routing: both, actions, log or none")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")
	rootCmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "start (and for create, create) prerequisites recursively")
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errStatus) && !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func parseOutput(mode string) (container.Output, error) {
	switch mode {
	case "both":
		return container.Output{Actions: true, Log: true}, nil
	case "actions":
		return container.Output{Actions: true}, nil
	case "log":
		return container.Output{Log: true}, nil
	case "none":
		return container.Output{}, nil
	}
	return container.Output{}, fmt.Errorf("unknown output mode %q", mode)
}

func run(cmd *cobra.Command, args []string) error {
	containerID, verb, params := args[0], args[1], args[2:]

	output, err := parseOutput(outputMode)
	if err != nil {
		return err
	}
	path, err := config.Discover(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	eng, err := lxd.Connect(logger)
	if err != nil {
		return err
	}
	deps := container.Deps{
		Engine:         eng,
		Rules:          iptables.New(logger),
		Template:       template.New(cfg.Variables),
		Logger:         logger,
		Output:         output,
		BackupsDir:     cfg.BackupsDir(),
		ConfigDir:      cfg.Dir(),
		DefinitionsDir: cfg.DefinitionsDir(),
	}
	reg := registry.New(cfg.DefinitionsDir(), deps, logger)

	c, err := reg.Get(containerID)
	if err != nil {
		return err
	}
	if err := dispatch(c, verb, params); err != nil {
		if errors.Is(err, errStatus) {
			return err
		}
		fmt.Fprintf(os.Stderr, "[%s] %T: %v\n", c.Name(), err, err)
		logger.Error("command failed",
			zap.String("container", containerID),
			zap.String("verb", verb),
			zap.Error(err))
		return fmt.Errorf("%v: %w", err, errReported)
	}
	return nil
}

func dispatch(c *container.Container, verb string, params []string) error {
	switch verb {
	case "create":
		return c.Create(recursive)
	case "start":
		return c.Start(recursive)
	case "stop":
		return c.Stop()
	case "destroy":
		return c.Destroy()
	case "running":
		running, err := c.IsRunning()
		if err != nil {
			return err
		}
		if !running {
			c.Log("Is not running")
			return errStatus
		}
		c.Log("Running")
		return nil
	case "nat":
		return c.Nat()
	case "denat":
		return c.Denat()
	case "login":
		dir := ""
		if len(params) > 0 {
			dir = params[0]
		}
		return c.Login(dir)
	case "backup":
		return c.Backup()
	case "restore":
		path := ""
		if len(params) > 0 {
			path = params[0]
		}
		return c.Restore(path)
	case "download":
		if len(params) != 2 {
			return fmt.Errorf("download needs SOURCE and TARGET")
		}
		return c.Download(params[0], params[1])
	case "upload":
		if len(params) != 2 {
			return fmt.Errorf("upload needs SOURCE and TARGET")
		}
		return c.Upload(params[0], params[1])
	case "exec":
		return runRPC(c, append([]string{c.ID()}, params...))
	}
	return runRPC(c, append([]string{c.ID(), verb}, params...))
}

// runRPC dispatches an ad-hoc RPC built from the argument vector, as used
// by exec and by unknown verbs.
func runRPC(c *container.Container, args []string) error {
	rpc, err := container.ParseRPC(args)
	if err != nil {
		return err
	}
	return rpc.Run(c, nil)
}
