// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

package cart

// ScopeKey resolves which cart a request operates on. A stable user identity
// wins so the same user keeps one cart across conversations; anonymous
// requests fall back to a per-conversation cart. The prefixes keep the two
// namespaces from colliding.
func ScopeKey(userID, conversationID string) string {
	if userID != "" {
		return "user:" + userID
	}
	return "conv:" + conversationID
}
