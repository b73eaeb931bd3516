package types

import "context"

/*
FetchFunc is the contract between the cache and the network.

It is called when a strategy decides the data must come from the origin:
 1. Strategy checks the cache (or skips it)
 2. Strategy calls the FetchFunc
 3. The FetchFunc talks to the remote backend
 4. Strategy stores the returned bytes (unless network-only)
 5. Strategy returns them to the caller
*/
type FetchFunc func(ctx context.Context) ([]byte, error)
