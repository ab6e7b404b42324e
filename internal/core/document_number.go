package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// nextDocumentNumberTx claims the next gapless number for a document type
// inside the caller's transaction and formats it, e.g. REQ-2026-00042.
// The sequence row is created on first use; the upsert takes a row lock so
// concurrent claimants serialise and no number is ever skipped or reused
// within a committed transaction.
func nextDocumentNumberTx(ctx context.Context, tx pgx.Tx, docType DocumentType, at time.Time) (string, error) {
	var lastNumber int64
	err := tx.QueryRow(ctx, `
		INSERT INTO document_sequences (doc_type, year, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (doc_type, year)
		DO UPDATE SET last_number = document_sequences.last_number + 1
		RETURNING last_number
	`, string(docType), at.Year()).Scan(&lastNumber)
	if err != nil {
		return "", fmt.Errorf("claim %s sequence number: %w", docType, err)
	}
	return fmt.Sprintf("%s-%d-%05d", docType, at.Year(), lastNumber), nil
}

// nextCustodyNumberTx numbers custody records from their own sequence,
// formatted CUS-2026-00007.
func nextCustodyNumberTx(ctx context.Context, tx pgx.Tx, at time.Time) (string, error) {
	var lastNumber int64
	err := tx.QueryRow(ctx, `
		INSERT INTO document_sequences (doc_type, year, last_number)
		VALUES ('CUS', $1, 1)
		ON CONFLICT (doc_type, year)
		DO UPDATE SET last_number = document_sequences.last_number + 1
		RETURNING last_number
	`, at.Year()).Scan(&lastNumber)
	if err != nil {
		return "", fmt.Errorf("claim custody sequence number: %w", err)
	}
	return fmt.Sprintf("CUS-%d-%05d", at.Year(), lastNumber), nil
}
