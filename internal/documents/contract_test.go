package documents

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateContract(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	doc := GenerateContract(12, at)

	assert.Equal(t, "contract_rental_12.pdf", doc.FileName)
	assert.Equal(t, "%PDF-1.4\n% Dummy contract PDF for rental 12\n%%EOF", string(doc.Content))
	assert.Len(t, doc.Digest, 64)
	assert.Equal(t, at, doc.GeneratedAt)

	t.Run("Deterministic", func(t *testing.T) {
		again := GenerateContract(12, at.Add(time.Hour))
		assert.Equal(t, doc.Digest, again.Digest)
		assert.NotEqual(t, doc.Digest, GenerateContract(13, at).Digest)
	})
}
