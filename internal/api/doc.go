// Package api serves the dashboard's read endpoints and the on-demand
// activity run over HTTP.
//
// Routes, all GET:
//
//	/api/devices/{projectId}               paginated, filterable device listing
//	/api/all-devices/{projectId}           every matching device
//	/api/device-stats/{projectId}          total/active/inactive counts
//	/api/fetchProgress/{projectId}         progress of the current or last run
//	/api/fetchActiveStatusData/{projectId} runs the activity pipeline
//	/health
//	/ready                                 projects and admission gate load
//	/metrics
//
// Read responses go through pkg/cache when a cache manager is configured.
package api
