// Package iptables manages the host NAT rules that publish container ports.
//
// Rules live in the nat table's PREROUTING chain and are keyed by their
// destination port: deletion removes every rule whose listing contains
// dpt:<port>. Containers publishing the same destination port will therefore
// evict each other's rules; operators are expected to keep destination ports
// disjoint.
package iptables

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"

	"go.uber.org/zap"
)

// ExternalDevice is the host interface incoming forwarded traffic arrives on.
const ExternalDevice = "enp1s0f0"

// Runner executes an iptables binary. The production runner shells out via
// sudo; tests substitute their own.
type Runner interface {
	Output(name string, args ...string) ([]byte, error)
	Run(name string, args ...string) error
}

type sudoRunner struct{}

func (sudoRunner) Output(name string, args ...string) ([]byte, error) {
	return exec.Command("sudo", append([]string{"-S", name}, args...)...).Output()
}

func (sudoRunner) Run(name string, args ...string) error {
	return exec.Command("sudo", append([]string{"-S", name}, args...)...).Run()
}

// Rules manipulates the host NAT table for IPv4 and IPv6.
type Rules struct {
	runner Runner
	logger *zap.Logger
}

// New returns Rules backed by passwordless sudo on the host binaries.
func New(logger *zap.Logger) *Rules {
	return NewWithRunner(sudoRunner{}, logger)
}

// NewWithRunner returns Rules using the given Runner.
func NewWithRunner(runner Runner, logger *zap.Logger) *Rules {
	return &Rules{runner: runner, logger: logger}
}

func binary(ipVersion int) string {
	if ipVersion == 6 {
		return "ip6tables"
	}
	return "iptables"
}

// DeleteForward removes every PREROUTING rule whose listing matches the
// destination port. Rules are deleted by line number in reverse so earlier
// deletions do not shift later ones.
func (r *Rules) DeleteForward(ipVersion, toPort int) error {
	bin := binary(ipVersion)
	out, err := r.runner.Output(bin, "-L", "-n", "-t", "nat", "--line-numbers")
	if err != nil {
		return fmt.Errorf("list nat rules: %w", err)
	}
	needle := []byte(fmt.Sprintf("dpt:%d", toPort))
	var lines []string
	for _, line := range bytes.Split(out, []byte("\n")) {
		if !bytes.Contains(line, needle) {
			continue
		}
		fields := bytes.Fields(line)
		if len(fields) == 0 {
			continue
		}
		lines = append(lines, string(fields[0]))
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if err := r.runner.Run(bin, "-t", "nat", "-D", "PREROUTING", lines[i]); err != nil {
			return fmt.Errorf("delete nat rule %s: %w", lines[i], err)
		}
		r.logger.Debug("deleted nat rule",
			zap.String("binary", bin),
			zap.String("line", lines[i]),
			zap.Int("port", toPort))
	}
	return nil
}

// CreateForward appends a DNAT rule forwarding toPort on the external device
// to ip:fromPort inside the container. IPv6 destinations use the bracketed
// address form.
func (r *Rules) CreateForward(ipVersion int, protocol string, toPort int, ip string, fromPort int, comment string) error {
	destination := fmt.Sprintf("%s:%d", ip, fromPort)
	if ipVersion == 6 {
		destination = fmt.Sprintf("[%s]:%d", ip, fromPort)
	}
	err := r.runner.Run(binary(ipVersion),
		"-t", "nat", "-A", "PREROUTING",
		"-p", protocol,
		"-i", ExternalDevice,
		"--dport", strconv.Itoa(toPort),
		"-j", "DNAT",
		"--to-destination", destination,
		"-m", "comment", "--comment", comment,
	)
	if err != nil {
		return fmt.Errorf("append nat rule for port %d: %w", toPort, err)
	}
	return nil
}
