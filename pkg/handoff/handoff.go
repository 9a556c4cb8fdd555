// Package handoff decides what to tell the user when a session changes role.
package handoff

import (
	"fmt"

	"proxie/pkg/session"
)

// Check reports whether moving sess to newRole is a handoff and the banner to
// show. The transcript and context are never discarded; the caller only
// switches the role.
func Check(sess *session.Session, newRole session.Role, displayName string) (bool, string) {
	current := sess.Role
	if current == "" || current == newRole {
		return false, ""
	}
	name := displayName
	if name == "" {
		name = sess.DisplayName
	}
	if name == "" {
		name = sess.Context.String("name")
	}
	if name == "" {
		name = "there"
	}

	switch {
	case current == session.RoleGuest && newRole == session.RoleConsumer:
		return true, fmt.Sprintf("Welcome back, %s! I've connected to your personal history. "+
			"I see you were looking for services, so let's find the perfect match for you.", name)
	case current == session.RoleEnrollment && newRole == session.RoleProvider:
		return true, fmt.Sprintf("Congratulations, %s! Your profile is active. "+
			"I'm now your dedicated business manager. Let's look at your first leads.", name)
	}
	return true, fmt.Sprintf("Switching to %s mode.", newRole)
}
