/*
Package recommend ranks catalog items for a visitor.

The scoring functions in scorer.go are pure: given the catalog, a browsing profile
and a random source they return a ranked slice. Recommender wraps them with the
collaborator calls a request needs and degrades instead of failing when one of
those collaborators is slow or down.

Ranking for the general feed:

	score = 10 × categoryCounts[category]
	      + 50 if the category was purchased before
	      + discount percent
	      + uniform jitter in [0, 5)

The jitter is intentional variety. Exact tie order is not stable across calls.
*/
package recommend
