package shared

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
)

// Code prefixes of human readable identifiers.
const (
	PrefixProduct    = "SP"
	PrefixCustomer   = "KH"
	PrefixInvoice    = "DH"
	PrefixImportBill = "PN"
	PrefixInspection = "PK"
	PrefixReturnBill = "TH"
	PrefixTransfer   = "PC"
	PrefixSupplier   = "NCC"
	PrefixAccount    = "TK"
	PrefixEmployee   = "NV"
)

// Sequencer hands out the next code for a prefix.
type Sequencer interface {
	NextCode(ctx context.Context, prefix string) (string, error)
}

// Querier is satisfied by pgx.Tx, *pgxpool.Pool and *pgx.Conn.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGSequencer increments id_sequences inside the caller's transaction, so a
// rolled back insert also rolls back its number.
type PGSequencer struct {
	q Querier
}

// NewPGSequencer binds a sequencer to a transaction or pool.
func NewPGSequencer(q Querier) *PGSequencer {
	return &PGSequencer{q: q}
}

// NextCode returns prefix followed by the next number for that prefix.
func (s *PGSequencer) NextCode(ctx context.Context, prefix string) (string, error) {
	var n int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO id_sequences (prefix, value) VALUES ($1, 1)
		ON CONFLICT (prefix) DO UPDATE SET value = id_sequences.value + 1
		RETURNING value`, prefix).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("shared: next code %s: %w", prefix, err)
	}
	return FormatCode(prefix, n), nil
}

// MemorySequencer is an in-process Sequencer used by tests and tools.
type MemorySequencer struct {
	mu   sync.Mutex
	next map[string]int64
}

// NewMemorySequencer constructs an empty MemorySequencer.
func NewMemorySequencer() *MemorySequencer {
	return &MemorySequencer{next: make(map[string]int64)}
}

// NextCode implements Sequencer.
func (s *MemorySequencer) NextCode(_ context.Context, prefix string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next[prefix]++
	return FormatCode(prefix, s.next[prefix]), nil
}

// FormatCode renders prefix+n, e.g. DH12.
func FormatCode(prefix string, n int64) string {
	return prefix + strconv.FormatInt(n, 10)
}

// ParseCode extracts the numeric suffix of code when it carries prefix.
func ParseCode(prefix, code string) (int64, bool) {
	if !strings.HasPrefix(code, prefix) {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(code, prefix), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
