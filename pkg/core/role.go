// SPDX-License-Identifier: Apache-2.0

package core

import (
	"fmt"
	"strings"
)

// AgentRole identifies one long-lived agent service.
type AgentRole string

const (
	// RoleEntry interprets incoming queries and may delegate.
	RoleEntry AgentRole = "entry"
	// RoleSpecialist handles narrower tasks and never delegates.
	RoleSpecialist AgentRole = "specialist"
)

// Roles lists the known roles in initialization order.
var Roles = []AgentRole{RoleEntry, RoleSpecialist}

// ParseRole converts a string into a known AgentRole.
func ParseRole(s string) (AgentRole, error) {
	r := AgentRole(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Roles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown agent role %q", s)
}

// RoleManifest captures semantic role metadata for an agent service.
type RoleManifest struct {
	Role           AgentRole   `json:"role"`
	Responsibility string      `json:"responsibility"`
	Tools          []string    `json:"tools"`
	Bindings       []string    `json:"bindings"`
	Delegates      []AgentRole `json:"delegates,omitempty"`
}

// RoleManifestProvider exposes role metadata for an agent service.
type RoleManifestProvider interface {
	RoleManifest() RoleManifest
}
