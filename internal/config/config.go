// Package config parses and validates the router configuration file (§6):
// a line-oriented ASCII format with four directives, order-independent,
// consumed once at startup into a RouterConfig.
package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jimmy477/ripd/internal/protocol"
	"github.com/jimmy477/ripd/internal/rerrors"
)

// Output is one configured neighbour: the port it listens on, the direct
// metric to reach it, and its router-id.
type Output struct {
	Port        int
	Metric      uint8
	NeighbourID uint16
}

// RouterConfig is the validated input to the daemon.
type RouterConfig struct {
	RouterID   uint16
	InputPorts []int
	Outputs    []Output
	Period     time.Duration
	Timeout    time.Duration
	Garbage    time.Duration
}

// Parse reads and validates the configuration file at path.
func Parse(path string) (RouterConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return RouterConfig{}, &rerrors.ConfigError{Message: "cannot read config file", Err: err}
	}
	defer f.Close()

	var (
		haveRouterID   bool
		haveInputPorts bool
		haveOutputs    bool
		haveTimers     bool
		cfg            RouterConfig
	)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		directive := fields[0]
		rest := strings.TrimSpace(strings.TrimPrefix(line, directive))

		switch directive {
		case "router-id":
			if haveRouterID {
				return RouterConfig{}, &rerrors.ConfigError{Directive: directive, Message: "duplicate directive"}
			}
			id, err := parseRouterID(rest)
			if err != nil {
				return RouterConfig{}, err
			}
			cfg.RouterID = id
			haveRouterID = true

		case "input-ports":
			if haveInputPorts {
				return RouterConfig{}, &rerrors.ConfigError{Directive: directive, Message: "duplicate directive"}
			}
			ports, err := parseInputPorts(rest)
			if err != nil {
				return RouterConfig{}, err
			}
			cfg.InputPorts = ports
			haveInputPorts = true

		case "outputs":
			if haveOutputs {
				return RouterConfig{}, &rerrors.ConfigError{Directive: directive, Message: "duplicate directive"}
			}
			outputs, err := parseOutputs(rest)
			if err != nil {
				return RouterConfig{}, err
			}
			cfg.Outputs = outputs
			haveOutputs = true

		case "timers":
			if haveTimers {
				return RouterConfig{}, &rerrors.ConfigError{Directive: directive, Message: "duplicate directive"}
			}
			period, timeout, garbage, err := parseTimers(rest)
			if err != nil {
				return RouterConfig{}, err
			}
			cfg.Period, cfg.Timeout, cfg.Garbage = period, timeout, garbage
			haveTimers = true

		default:
			return RouterConfig{}, &rerrors.ConfigError{Directive: directive, Message: "unknown directive"}
		}
	}
	if err := scanner.Err(); err != nil {
		return RouterConfig{}, &rerrors.ConfigError{Message: "error reading config file", Err: err}
	}

	if !haveRouterID {
		return RouterConfig{}, &rerrors.ConfigError{Directive: "router-id", Message: "missing directive"}
	}
	if !haveInputPorts {
		return RouterConfig{}, &rerrors.ConfigError{Directive: "input-ports", Message: "missing directive"}
	}
	if !haveOutputs {
		return RouterConfig{}, &rerrors.ConfigError{Directive: "outputs", Message: "missing directive"}
	}
	if !haveTimers {
		cfg.Period, cfg.Timeout, cfg.Garbage = protocol.DefaultPeriod, protocol.DefaultTimeout, protocol.DefaultGarbage
	}

	if err := crossValidate(cfg); err != nil {
		return RouterConfig{}, err
	}
	return cfg, nil
}

func parseRouterID(rest string) (uint16, error) {
	fields := strings.Fields(rest)
	if len(fields) != 1 {
		return 0, &rerrors.ConfigError{Directive: "router-id", Message: "expected exactly one integer"}
	}
	id, err := strconv.Atoi(fields[0])
	if err != nil || !protocol.ValidRouterID(id) {
		return 0, &rerrors.ConfigError{Directive: "router-id", Message: "must be an integer in [1, 64000]"}
	}
	return uint16(id), nil
}

func parseInputPorts(rest string) ([]int, error) {
	tokens := splitCommaList(rest)
	if len(tokens) == 0 {
		return nil, &rerrors.ConfigError{Directive: "input-ports", Message: "at least one port required"}
	}

	seen := make(map[int]struct{}, len(tokens))
	ports := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		port, err := strconv.Atoi(tok)
		if err != nil || !protocol.ValidPort(port) {
			return nil, &rerrors.ConfigError{Directive: "input-ports", Message: "ports must be integers in [1024, 64000]"}
		}
		if _, dup := seen[port]; dup {
			return nil, &rerrors.ConfigError{Directive: "input-ports", Message: "duplicate port"}
		}
		seen[port] = struct{}{}
		ports = append(ports, port)
	}
	return ports, nil
}

func parseOutputs(rest string) ([]Output, error) {
	tokens := splitCommaList(rest)
	if len(tokens) == 0 {
		return nil, &rerrors.ConfigError{Directive: "outputs", Message: "at least one output tuple required"}
	}

	outputs := make([]Output, 0, len(tokens))
	for _, tok := range tokens {
		parts := strings.Split(tok, "-")
		if len(parts) != 3 {
			return nil, &rerrors.ConfigError{Directive: "outputs", Message: "expected port-metric-neighbour-id"}
		}
		port, err1 := strconv.Atoi(parts[0])
		metric, err2 := strconv.Atoi(parts[1])
		neighbourID, err3 := strconv.Atoi(parts[2])
		if err1 != nil || !protocol.ValidPort(port) {
			return nil, &rerrors.ConfigError{Directive: "outputs", Message: "output port must be in [1024, 64000]"}
		}
		if err2 != nil || !protocol.ValidDirectMetric(metric) {
			return nil, &rerrors.ConfigError{Directive: "outputs", Message: "metric must be in [1, 15]"}
		}
		if err3 != nil || !protocol.ValidRouterID(neighbourID) {
			return nil, &rerrors.ConfigError{Directive: "outputs", Message: "neighbour-id must be in [1, 64000]"}
		}
		outputs = append(outputs, Output{Port: port, Metric: uint8(metric), NeighbourID: uint16(neighbourID)})
	}
	return outputs, nil
}

func parseTimers(rest string) (period, timeout, garbage time.Duration, err error) {
	tokens := splitCommaList(rest)
	if len(tokens) != 3 {
		return 0, 0, 0, &rerrors.ConfigError{Directive: "timers", Message: "expected period, timeout, garbage"}
	}
	vals := make([]int, 3)
	for i, tok := range tokens {
		v, convErr := strconv.Atoi(tok)
		if convErr != nil || v <= 0 {
			return 0, 0, 0, &rerrors.ConfigError{Directive: "timers", Message: "values must be positive integers"}
		}
		vals[i] = v
	}
	if vals[1] != protocol.TimeoutToPeriodRatio*vals[0] {
		return 0, 0, 0, &rerrors.ConfigError{Directive: "timers", Message: "timeout must equal 6*period"}
	}
	if vals[2] != protocol.GarbageToPeriodRatio*vals[0] {
		return 0, 0, 0, &rerrors.ConfigError{Directive: "timers", Message: "garbage must equal 4*period"}
	}
	return time.Duration(vals[0]) * time.Second,
		time.Duration(vals[1]) * time.Second,
		time.Duration(vals[2]) * time.Second,
		nil
}

// crossValidate checks the invariants that span multiple directives: no
// duplicate or overlapping ports between input-ports and outputs.
func crossValidate(cfg RouterConfig) error {
	inputSet := make(map[int]struct{}, len(cfg.InputPorts))
	for _, p := range cfg.InputPorts {
		inputSet[p] = struct{}{}
	}

	outputPorts := make(map[int]struct{}, len(cfg.Outputs))
	for _, o := range cfg.Outputs {
		if _, clash := inputSet[o.Port]; clash {
			return &rerrors.ConfigError{Directive: "outputs", Message: "output port overlaps an input port"}
		}
		if _, dup := outputPorts[o.Port]; dup {
			return &rerrors.ConfigError{Directive: "outputs", Message: "duplicate output port"}
		}
		outputPorts[o.Port] = struct{}{}
	}
	return nil
}

// splitCommaList splits a comma-separated argument list, trimming
// whitespace around each item and dropping every empty item.
func splitCommaList(s string) []string {
	raw := strings.Split(s, ",")
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
