package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parlorhq/parlor/pkg/constant"
)

func TestDmMemberKey(t *testing.T) {
	key1 := DmMemberKey([]string{"alice", "bob"})
	key2 := DmMemberKey([]string{"bob", "alice"})
	assert.Equal(t, key1, key2, "key must not depend on member order")

	key3 := DmMemberKey([]string{"alice", "bob", "carol"})
	assert.NotEqual(t, key1, key3)

	// Ids containing underscores must not collide with concatenations
	keyA := DmMemberKey([]string{"a_b", "c"})
	keyB := DmMemberKey([]string{"a", "b_c"})
	assert.NotEqual(t, keyA, keyB)

	assert.Len(t, key1, 64, "key is a fixed-width hex digest")
}

func TestDedupeUserIds(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, DedupeUserIds([]string{"c", "a", "b", "a", "c"}))
	assert.Equal(t, []string{"a"}, DedupeUserIds([]string{"a", "", "a"}))
	assert.Empty(t, DedupeUserIds(nil))
}

func TestIsValidConversationType(t *testing.T) {
	assert.True(t, IsValidConversationType(constant.ConversationTypeChannel))
	assert.True(t, IsValidConversationType(constant.ConversationTypeDm))
	assert.False(t, IsValidConversationType("group"))
	assert.False(t, IsValidConversationType(""))
}
