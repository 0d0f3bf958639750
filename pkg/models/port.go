// Package models defines port-based workflow models for node connections.
package models

import (
	"strconv"
	"strings"
)

const portPrefix = "right-"

// Output port identifiers.
const (
	PortDefault   = "right"
	PortTrue      = "right-true"
	PortFalse     = "right-false"
	PortCaseDflt  = "right-default"
	PortLoopBody  = "right-loop"
	PortLoopDone  = "right-done"
	PortInputMain = "left"
)

// CasePort returns the output port of the switch case at the zero-based index.
func CasePort(index int) string {
	return portPrefix + "case-" + strconv.Itoa(index+1)
}

// NormalizePort maps the short port spellings ("true", "case-1", "") onto the
// canonical "right-*" identifiers.
func NormalizePort(port string) string {
	switch {
	case port == "":
		return PortDefault
	case port == PortDefault, strings.HasPrefix(port, portPrefix):
		return port
	default:
		return portPrefix + port
	}
}

// PortMatches reports whether a connector leaving through connectorPort carries the
// selected output port.
func PortMatches(connectorPort, selected string) bool {
	return NormalizePort(connectorPort) == NormalizePort(selected)
}
