package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Transaction is a pre-existing ledger entry. The ledger owns it; this core
// only reads it and writes the MatchedSourceItemID back-reference on approval.
type Transaction struct {
	Date                time.Time
	CreatedAt           time.Time
	ID                  string
	UserID              string
	VendorID            string
	VendorName          string
	Currency            string
	MatchedSourceItemID string
	Hash                string
	Amount              float64
}

// GenerateHash creates a unique hash for duplicate detection.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%.2f:%s:%s:%s",
		t.Date.Format("2006-01-02"),
		t.Amount,
		t.Currency,
		t.VendorName,
		t.UserID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
