// Package health reports whether the query cache's collaborators are fit
// to serve: the backing store and the procedure client.
//
// A Checker probes one dependency and returns a Result carrying one of
// three statuses. Degraded sits between healthy and unhealthy for
// dependencies that answer, but outside their expected envelope.
// StoreChecker exercises a write/read/delete round-trip against a
// query.Store; ClientChecker calls a probe procedure through a
// procedure.Client.
//
// An Aggregator fans out to every registered checker and folds the
// results into the worst observed status:
//
//	agg := health.NewAggregator()
//	agg.Register("store", health.NewStoreChecker(store, health.StoreCheckerConfig{}))
//	agg.Register("client", health.NewClientChecker(client, health.ClientCheckerConfig{}))
//
//	results := agg.CheckAll(ctx)
//	overall := agg.OverallStatus(results)
//
// RegisterHandlers mounts the usual probe endpoints on a mux: /healthz
// for liveness, /readyz for readiness, and /health for the full result
// set as JSON:
//
//	health.RegisterHandlers(mux, agg)
package health
