package serial

import (
	"fmt"
	"sort"

	"go.bug.st/serial/enumerator"
)

// ListPorts returns the serial ports the OS reports, sorted by name.
// Legacy UART nodes with no hardware behind them are not reported.
func ListPorts() ([]string, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("serial: enumerate ports: %w", err)
	}
	return portNames(details), nil
}

// portNames reduces enumerator results to unique, sorted device names
func portNames(details []*enumerator.PortDetails) []string {
	seen := make(map[string]struct{}, len(details))
	ports := make([]string, 0, len(details))
	for _, d := range details {
		if d == nil || d.Name == "" {
			continue
		}
		if _, ok := seen[d.Name]; ok {
			continue
		}
		seen[d.Name] = struct{}{}
		ports = append(ports, d.Name)
	}
	sort.Strings(ports)
	return ports
}
