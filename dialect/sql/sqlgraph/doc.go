// Package sqlgraph rebuilds linked object graphs from the rows of compiled
// queries, and prefetches one-to-many relations level by level.
//
// An Iterator consumes the rows of a sql.CompiledQuery and uses its selection
// map to split every row into one Instance per joined table occurrence.
// Join targets are attached to their source under the join attribute: a
// to-one attribute in Instance.Edges, a to-many attribute in Instance.Lists.
// With WithIdentityCache, rows repeating a parent share one instance.
//
// Prefetch runs a root query and one query per level of a path, restricting
// each level with an IN predicate on the keys of the previous one:
//
//	authors, err := sqlgraph.Prefetch(ctx, drv,
//	    b.Select(authors.Star()).From(authors),
//	    b.Select(books.Star()).From(books),
//	    b.Select(reviews.Star()).From(reviews),
//	)
package sqlgraph
