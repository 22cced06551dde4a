// Package txndswrap pins the datastore surface the stores rely on:
// transactions plus seek-prefix extended queries.
package txndswrap

import (
	ds "github.com/ipfs/go-datastore"
	dsextensions "github.com/textileio/go-datastore-extensions"
)

// TxnDatastore is a transactional datastore with extended queries.
type TxnDatastore interface {
	ds.TxnDatastore
	dsextensions.QueryExtensions
}
