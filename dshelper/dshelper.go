// Package dshelper creates the badger-backed datastores used by marketd.
package dshelper

import (
	"github.com/nameswap/market-core/dshelper/txndswrap"
	badger "github.com/textileio/go-ds-badger3"
)

// NewBadgerTxnDatastore returns a badger-backed TxnDatastore rooted at repoPath.
func NewBadgerTxnDatastore(repoPath string) (txndswrap.TxnDatastore, error) {
	return badger.NewDatastore(repoPath, &badger.DefaultOptions)
}
