// Package lifecycle decides which document status transitions are legal and
// who may make them. It has no side effects.
package lifecycle

import (
	"fmt"
	"strings"

	"github.com/elshodweb/diploma-backend/internal/document"
	"github.com/elshodweb/diploma-backend/internal/models"
	"github.com/elshodweb/diploma-backend/pkg/apperrors"
)

var edges = map[document.Status][]document.Status{
	document.StatusDraft: {document.StatusApproved, document.StatusRejected},
}

// Authorize reports whether role may change document status at all.
func Authorize(role models.Role) error {
	if role != models.RoleAdmin {
		return fmt.Errorf("role %s may not change document status: %w", role, apperrors.ErrForbidden)
	}
	return nil
}

// Validate checks a requested transition. Only ADMIN may change status, so
// any other role gets ErrForbidden whatever the pair. An ADMIN asking for a
// pair outside DRAFT->APPROVED and DRAFT->REJECTED gets ErrInvalidTransition.
func Validate(current, requested document.Status, role models.Role) error {
	if err := Authorize(role); err != nil {
		return err
	}
	for _, next := range edges[current] {
		if next == requested {
			return nil
		}
	}
	return fmt.Errorf("%s -> %s: %w", current, requested, apperrors.ErrInvalidTransition)
}

// Transitions lists the statuses reachable from s.
func Transitions(s document.Status) []document.Status {
	return append([]document.Status(nil), edges[s]...)
}

// IsTerminal reports whether s has no outgoing transitions.
func IsTerminal(s document.Status) bool {
	return len(edges[s]) == 0
}

// ParseStatus maps an inbound value to a known status.
func ParseStatus(s string) (document.Status, error) {
	switch st := document.Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case document.StatusDraft, document.StatusApproved, document.StatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q: %w", s, apperrors.ErrInvalidInput)
}
