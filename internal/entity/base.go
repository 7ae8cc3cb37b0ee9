package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/parlorhq/parlor/pkg/constant"
)

// NowUnixMilli returns current unix timestamp in milliseconds
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// DmMemberKey derives the deduplication key for a DM thread member set.
// The same member set always produces the same key regardless of order, so
// thread creation is idempotent on the exact set of participants.
// Uses ":" as separator between userIds to support userIds containing "_",
// hashed so the key stays a fixed width for any member count.
func DmMemberKey(userIds []string) string {
	members := make([]string, len(userIds))
	copy(members, userIds)
	sort.Strings(members)
	sum := sha256.Sum256([]byte(strings.Join(members, ":")))
	return hex.EncodeToString(sum[:])
}

// DedupeUserIds returns the sorted unique user ids of a member set
func DedupeUserIds(userIds []string) []string {
	seen := make(map[string]struct{}, len(userIds))
	out := make([]string, 0, len(userIds))
	for _, id := range userIds {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// IsValidConversationType reports whether t names a known conversation variant
func IsValidConversationType(t string) bool {
	return t == constant.ConversationTypeChannel || t == constant.ConversationTypeDm
}
