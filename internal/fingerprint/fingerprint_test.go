package fingerprint

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestHash_Deterministic(t *testing.T) {
	text := "identical paragraph shared by two documents"
	assert.Equal(t, Hash(text), Hash(text))
}

func TestHash_DistinctInputs(t *testing.T) {
	assert.NotEqual(t, Hash("first paragraph"), Hash("second paragraph"))
}

func TestHash_HexEncoded256Bit(t *testing.T) {
	h := Hash("anything")
	assert.Len(t, h, 64)
}

func TestRecordID_Deterministic(t *testing.T) {
	a := RecordID("prod-eu1-acme-drive-v1", Hash("shared content"))
	b := RecordID("prod-eu1-acme-drive-v1", Hash("shared content"))
	assert.Equal(t, a, b)
}

func TestRecordID_ScopedToIndex(t *testing.T) {
	h := Hash("shared content")
	a := RecordID("prod-eu1-acme-drive-v1", h)
	b := RecordID("prod-eu1-globex-drive-v1", h)
	assert.NotEqual(t, a, b, "same content in different org indexes must not collide")
}

func TestRecordID_ValidUUID(t *testing.T) {
	id := RecordID("prod-eu1-acme-drive-v1", Hash("content"))
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
}
