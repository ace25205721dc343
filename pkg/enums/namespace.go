package enums

import (
	"fmt"
	"strings"
)

// Namespace selects which product surface a client runs for.
type Namespace string

const (
	NamespaceUser  Namespace = "user"
	NamespaceAdmin Namespace = "admin"
)

// IsValid checks whether the given namespace is supported.
func (n Namespace) IsValid() bool {
	switch n {
	case NamespaceUser, NamespaceAdmin:
		return true
	}
	return false
}

// ParseNamespace converts raw strings into Namespace.
func ParseNamespace(value string) (Namespace, error) {
	candidate := Namespace(strings.ToLower(strings.TrimSpace(value)))
	if candidate.IsValid() {
		return candidate, nil
	}
	return "", fmt.Errorf("invalid namespace %q", value)
}
