package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateIndexName(t *testing.T) {
	tests := []struct {
		name    string
		index   string
		wantErr bool
	}{
		{"valid", "prod-acme-corp-drive-v2", false},
		{"single char", "a", false},
		{"empty", "", true},
		{"uppercase", "Prod-Acme", true},
		{"underscore", "prod_acme", true},
		{"too long", "a-very-long-index-name-that-goes-on-and-on-past-the-sixty-four-limit", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIndexName(tt.index)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidIndexName)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPayload_AddUser(t *testing.T) {
	p := Payload{AuthorizedUserIDs: []string{"bob"}}

	assert.True(t, p.AddUser("alice"))
	assert.Equal(t, []string{"alice", "bob"}, p.AuthorizedUserIDs, "set stays sorted")

	assert.False(t, p.AddUser("alice"), "adding an existing user is a no-op")
	assert.Equal(t, []string{"alice", "bob"}, p.AuthorizedUserIDs)
}

func TestPayload_RemoveUser(t *testing.T) {
	p := Payload{AuthorizedUserIDs: []string{"alice", "bob"}}

	assert.True(t, p.RemoveUser("alice"))
	assert.Equal(t, []string{"bob"}, p.AuthorizedUserIDs)

	assert.False(t, p.RemoveUser("carol"), "removing an absent user is a no-op")
	assert.Equal(t, []string{"bob"}, p.AuthorizedUserIDs)

	assert.True(t, p.RemoveUser("bob"))
	assert.Empty(t, p.AuthorizedUserIDs)
}

func TestPayload_HasUser(t *testing.T) {
	p := Payload{AuthorizedUserIDs: []string{"alice"}}
	assert.True(t, p.HasUser("alice"))
	assert.False(t, p.HasUser("bob"))
}

func TestFilter_IsZero(t *testing.T) {
	assert.True(t, Filter{}.IsZero())
	assert.False(t, Filter{AuthorizedUserID: "alice"}.IsZero())
	assert.False(t, Filter{ContentHash: "abc"}.IsZero())
}
