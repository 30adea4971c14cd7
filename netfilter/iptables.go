package netfilter

import (
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Rule is a single iptables rule. Empty fields are left out of the command.
type Rule struct {
	Table         string // nat, filter, mangle
	Chain         string
	Protocol      string
	Source        string
	Destination   string
	InInterface   string
	OutInterface  string
	SourcePort    int
	DestPort      int
	Target        string            // ACCEPT, DROP, DNAT, ...
	TargetOptions map[string]string // e.g. to-destination for DNAT
}

// Runner executes an iptables invocation and returns its combined output
type Runner func(args ...string) ([]byte, error)

func execIptables(args ...string) ([]byte, error) {
	return exec.Command("iptables", args...).CombinedOutput()
}

// Manager tracks the rules it installed so they can all be removed again
type Manager struct {
	run        Runner
	rules      []Rule
	rulesMutex sync.Mutex
}

// NewManager creates a Manager that shells out to iptables
func NewManager() *Manager {
	return NewManagerWithRunner(execIptables)
}

// NewManagerWithRunner creates a Manager that executes rules through run
func NewManagerWithRunner(run Runner) *Manager {
	return &Manager{run: run}
}

// Args returns the iptables arguments for rule with the given operation
// flag ("-A" to append, "-D" to delete)
func (rule Rule) Args(op string) []string {
	args := []string{"-t", rule.Table, op, rule.Chain}

	if rule.Protocol != "" {
		args = append(args, "-p", rule.Protocol)
	}
	if rule.Source != "" {
		args = append(args, "-s", rule.Source)
	}
	if rule.Destination != "" {
		args = append(args, "-d", rule.Destination)
	}
	if rule.InInterface != "" {
		args = append(args, "-i", rule.InInterface)
	}
	if rule.OutInterface != "" {
		args = append(args, "-o", rule.OutInterface)
	}
	if rule.SourcePort > 0 {
		args = append(args, "--sport", strconv.Itoa(rule.SourcePort))
	}
	if rule.DestPort > 0 {
		args = append(args, "--dport", strconv.Itoa(rule.DestPort))
	}

	args = append(args, "-j", rule.Target)

	// map order is random; keep the command stable so -D matches -A
	keys := make([]string, 0, len(rule.TargetOptions))
	for k := range rule.TargetOptions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		opt := k
		if !strings.HasPrefix(k, "--") {
			opt = "--" + k
		}
		args = append(args, opt)
		if v := rule.TargetOptions[k]; v != "" {
			args = append(args, v)
		}
	}
	return args
}

// AddRule installs rule and remembers it for RemoveAllRules
func (m *Manager) AddRule(rule Rule) error {
	args := rule.Args("-A")
	log.Debugf("Netfilter: iptables %s", strings.Join(args, " "))
	if output, err := m.run(args...); err != nil {
		return fmt.Errorf("failed to add iptables rule: %v, output: %s", err, strings.TrimSpace(string(output)))
	}

	m.rulesMutex.Lock()
	m.rules = append(m.rules, rule)
	m.rulesMutex.Unlock()
	return nil
}

// RemoveRule deletes rule from iptables
func (m *Manager) RemoveRule(rule Rule) error {
	args := rule.Args("-D")
	log.Debugf("Netfilter: iptables %s", strings.Join(args, " "))
	if output, err := m.run(args...); err != nil {
		return fmt.Errorf("failed to remove iptables rule: %v, output: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// RemoveAllRules deletes every rule this manager added, newest first.
// Failures are logged and do not stop the sweep.
func (m *Manager) RemoveAllRules() {
	m.rulesMutex.Lock()
	defer m.rulesMutex.Unlock()

	for i := len(m.rules) - 1; i >= 0; i-- {
		if err := m.RemoveRule(m.rules[i]); err != nil {
			log.Warnf("Netfilter: %v", err)
		}
	}
	m.rules = nil
}

// Installed returns how many rules are currently tracked
func (m *Manager) Installed() int {
	m.rulesMutex.Lock()
	defer m.rulesMutex.Unlock()
	return len(m.rules)
}

// RedirectToHost DNATs traffic arriving on inInterface for port to
// hostIP:hostPort
func (m *Manager) RedirectToHost(inInterface string, proto string, port int, hostIP string, hostPort int) error {
	return m.AddRule(Rule{
		Table:       "nat",
		Chain:       "PREROUTING",
		InInterface: inInterface,
		Protocol:    proto,
		DestPort:    port,
		Target:      "DNAT",
		TargetOptions: map[string]string{
			"to-destination": fmt.Sprintf("%s:%d", hostIP, hostPort),
		},
	})
}
