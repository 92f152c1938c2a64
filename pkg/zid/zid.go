// Package zid wraps xid for job identifiers. A job id can be extended with the position of a
// recipient in the job into a transaction id, "<job id>-<index>".
package zid

import (
	"fmt"

	"github.com/rs/xid"
)

type ID struct {
	internal xid.ID
}

func (id ID) String() string {
	return id.internal.String()
}

// FromString parses a job id, anything not produced by New is an error
func FromString(id string) (ID, error) {
	i, err := xid.FromString(id)
	if err != nil {
		return ID{}, err
	}
	return ID{internal: i}, nil
}

const tidSep = "-"

func (id ID) ToTID(transaction int) string {
	return fmt.Sprintf("%s%s%d", id.internal, tidSep, transaction)
}

func New() ID {
	return ID{
		internal: xid.New(),
	}
}
