// Package query coordinates cached reads of remote procedures.
//
// Every read flows through a Coordinator, which derives a deterministic
// cache key from the procedure path and input, serves fresh cached data,
// coalesces concurrent fetches for the same key into one remote call, and
// writes results back to the Store.
//
// # Keys
//
// Keys are derived from canonical JSON: object keys sorted, strings
// NFC-normalized, numbers kept verbatim. Structurally equal inputs always
// hit the same entry regardless of field order or map iteration.
//
// # Freshness
//
// An entry is fresh while its age is under the stale time and it has not
// been invalidated. The default stale time is zero: every Fetch
// revalidates, while GetData and EnsureData serve whatever is cached.
// Invalidate marks entries stale and refetches the selected ones before it
// returns.
//
// # Usage
//
//	coord, err := query.NewCoordinator(query.CoordinatorConfig{
//	    Client:    client,
//	    StaleTime: 30 * time.Second,
//	})
//	if err != nil {
//	    return err
//	}
//
//	postByID := procedure.MustDescriptor[PostInput, Post]("post.byId")
//	posts, err := query.NewUtil(coord, postByID)
//	if err != nil {
//	    return err
//	}
//
//	post, err := posts.Fetch(ctx, PostInput{ID: 1})
//	if err != nil {
//	    return err
//	}
//
// Typed utilities decode through the descriptor's type parameters; the
// coordinator itself works on raw JSON and can be used directly.
package query
