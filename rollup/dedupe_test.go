// ABOUTME: Tests for cross-source deduplication
// ABOUTME: Covers merging, idempotence, and arrival-order truncation
package rollup

import (
	"fmt"
	"testing"

	"github.com/harperreed/rollupsync/models"
	"github.com/stretchr/testify/assert"
)

func prepared(key, source string, tags ...string) models.PreparedContact {
	return models.PreparedContact{
		DedupeKey:         key,
		Email:             key[len(models.DedupeKeyEmail):],
		Tags:              tags,
		SourceAccountKeys: []string{source},
	}
}

func TestDedupeGlobalMergesAcrossSources(t *testing.T) {
	a := prepared("email:shared@example.com", "src-a", "vip")
	b := prepared("email:shared@example.com", "src-b", "lead")
	b.Phone = "+16502530000"
	b.FirstName = "Sam"

	result := DedupeGlobal([]models.PreparedContact{
		a,
		prepared("email:one@example.com", "src-a"),
		prepared("email:two@example.com", "src-a"),
		b,
		prepared("email:three@example.com", "src-b"),
		prepared("email:four@example.com", "src-b"),
	}, 100)

	assert.Equal(t, 5, result.Unique)
	assert.Equal(t, 1, result.GlobalDuplicatesCollapsed)
	assert.Zero(t, result.TruncatedByMaxUpserts)

	merged := result.Contacts[0]
	assert.Equal(t, "+16502530000", merged.Phone)
	assert.Equal(t, "Sam", merged.FirstName)
	assert.Equal(t, []string{"vip", "lead"}, merged.Tags)
	assert.Equal(t, []string{"src-a", "src-b"}, merged.SourceAccountKeys)

	// Input is untouched.
	assert.Equal(t, []string{"vip"}, a.Tags)
}

func TestDedupeGlobalTruncatesByArrival(t *testing.T) {
	var contacts []models.PreparedContact
	for i := 0; i < 5; i++ {
		contacts = append(contacts, prepared(fmt.Sprintf("email:u%d@example.com", i), "src"))
	}

	result := DedupeGlobal(contacts, 2)
	assert.Equal(t, 5, result.Unique)
	assert.Len(t, result.Contacts, 2)
	assert.Equal(t, 3, result.TruncatedByMaxUpserts)
	assert.Equal(t, "email:u0@example.com", result.Contacts[0].DedupeKey)
	assert.Equal(t, "email:u1@example.com", result.Contacts[1].DedupeKey)
}

func TestDedupeGlobalIdempotent(t *testing.T) {
	input := []models.PreparedContact{
		prepared("email:a@example.com", "s1", "x"),
		prepared("email:b@example.com", "s1"),
		prepared("email:a@example.com", "s2", "y"),
	}

	first := DedupeGlobal(input, 100)
	second := DedupeGlobal(input, 100)
	assert.Equal(t, first, second)

	again := DedupeGlobal(first.Contacts, 100)
	assert.Equal(t, first.Contacts, again.Contacts)
	assert.Zero(t, again.GlobalDuplicatesCollapsed)
}
