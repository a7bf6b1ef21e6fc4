// Package documents renders the artifacts attached to a self-drive contract.
package documents

import (
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"cark-backend/internal/domain"
)

// ContractFileName is the stored name of a rental's contract.
func ContractFileName(rentalID int32) string {
	return fmt.Sprintf("contract_rental_%d.pdf", rentalID)
}

// RenderContract produces the contract placeholder for a rental. The content
// depends only on the rental id so the same rental always yields the same
// digest; only the contract's presence gates the workflow.
func RenderContract(rentalID int32) []byte {
	return fmt.Appendf(nil, "%%PDF-1.4\n%% Dummy contract PDF for rental %d\n%%%%EOF", rentalID)
}

// Digest is the hex blake2b-256 sum of content.
func Digest(content []byte) string {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// GenerateContract builds the contract document for a rental.
func GenerateContract(rentalID int32, at time.Time) domain.ContractDocument {
	content := RenderContract(rentalID)
	return domain.ContractDocument{
		FileName:    ContractFileName(rentalID),
		Digest:      Digest(content),
		Content:     content,
		GeneratedAt: at,
	}
}
