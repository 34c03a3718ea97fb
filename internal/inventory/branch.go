package inventory

import (
	"fmt"
	"strings"

	"github.com/lilas/backoffice/internal/shared"
)

// Branch is one of the two stocking locations.
type Branch int

const (
	BranchTerra Branch = iota
	BranchThoNhuom

	// BranchCount sizes per-branch arrays.
	BranchCount = 2
)

// Branches lists every branch in table order.
var Branches = [BranchCount]Branch{BranchTerra, BranchThoNhuom}

type branchInfo struct {
	name   string
	column string
}

var branchTable = [BranchCount]branchInfo{
	BranchTerra:    {name: "Terra", column: "terra"},
	BranchThoNhuom: {name: "Thợ Nhuộm", column: "thonhuom"},
}

// ErrBranchNotFound is returned for any literal outside the branch table.
var ErrBranchNotFound = shared.NewError(shared.ErrBranchNotFound, "BRANCH_NOT_FOUND", "branch not found")

// ParseBranch maps a display name to a Branch.
func ParseBranch(name string) (Branch, error) {
	name = strings.TrimSpace(name)
	for i, info := range branchTable {
		if info.name == name {
			return Branch(i), nil
		}
	}
	return 0, ErrBranchNotFound.WithMessage("branch %q not found", name)
}

// Valid reports whether b indexes the branch table.
func (b Branch) Valid() bool {
	return b >= 0 && int(b) < BranchCount
}

func (b Branch) String() string {
	if !b.Valid() {
		return fmt.Sprintf("Branch(%d)", int(b))
	}
	return branchTable[b].name
}

// Column returns the column name of a per-branch counter, e.g. terra_stock.
func (b Branch) Column(counter string) string {
	return branchTable[b].column + "_" + counter
}

// MarshalText renders the display name.
func (b Branch) MarshalText() ([]byte, error) {
	if !b.Valid() {
		return nil, ErrBranchNotFound
	}
	return []byte(b.String()), nil
}

// UnmarshalText parses the display name.
func (b *Branch) UnmarshalText(text []byte) error {
	parsed, err := ParseBranch(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
