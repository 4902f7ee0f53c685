package remotestore

import "errors"

// ErrNotFound is returned by repository methods when the requested record
// does not exist in the database. Callers should check for this error
// explicitly using errors.Is to distinguish missing records from other
// database errors.
//
//	lead, err := repo.GetByURL(ctx, url)
//	if errors.Is(err, remotestore.ErrNotFound) {
//	    handle not found
//	}
var ErrNotFound = errors.New("record not found")

// ErrConflict names a unique-constraint violation. No repository in this
// package returns it: every Upsert resolves a conflict on its natural key by
// updating the existing row.
var ErrConflict = errors.New("record already exists")