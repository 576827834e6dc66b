// Package rest serves the materialized station table as a read-only JSON API.
//
//	GET /stations          all stations, filtered and paged
//	GET /stations/{id}     a single station, 404 if unknown
//	GET /healthz           processor state, 503 once it has faulted
//
// /stations accepts a subset of the PostgREST query grammar:
//
//	Parameter               | Description
//	------------------------|------------------------------------------
//	?select=col1,col2       | Return only these columns
//	?order=col.desc         | Order results (asc by default)
//	?limit=100              | Limit number of results (default 100, max 1000)
//	?offset=0               | Pagination offset
//	?col=eq.val             | Equality (also neq)
//	?col=gt.val             | Numeric comparison (gt, gte, lt, lte)
//	?col=in.(a,b,c)         | Value lists
//	?col=like.*val*         | Wildcard match (ilike is case-insensitive)
//
// Columns are station_id, station_name, order and line.
package rest
