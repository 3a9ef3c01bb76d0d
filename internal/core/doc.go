// Package core drives batches of spatial data through import and publish.
//
// The package holds the domain workflow independent of any transport. The
// HTTP server and the command line tool both sit on top of it.
//
// # Orchestrator
//
// [Orchestrator.Run] takes a list of [domain.DataItem] values and a
// [domain.PublishTarget]. It connects to the database, checks the map
// server, ensures the workspace and PostGIS data store exist, then
// processes items one at a time:
//
//  1. Validate the target name and kind
//  2. Import vector files; existing tables skip this step
//  3. Publish the table as a feature layer
//  4. Assign the item's style when it is not the server default
//
// A setup failure aborts the run with no item touched. An item failure is
// recorded in [domain.BatchResult] and the run continues. Feedback flows
// through a [Reporter].
//
// # Run Service
//
// [Service] wraps the orchestrator for long-lived processes. Each run gets
// fresh gateways from a [GatewayFactory], executes in the background under
// a [RunLimiter] slot and broadcasts [RunProgress] to subscribers.
//
// # Building Batches
//
// [ScanFolder] turns a directory of spatial files into items,
// [ItemsFromTables] turns existing PostGIS tables into publish-only items,
// and [LoadManifest] reads a YAML batch description.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with [MapError].
// Each category has a code for support reference; see error_messages.go.
package core
