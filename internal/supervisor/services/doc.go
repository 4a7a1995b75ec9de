// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

/*
Package services adapts daemon components to suture.Service.

Each wrapper translates a lifecycle (ListenAndServe, a blocking Run, a
ticker loop) into Serve(ctx) and names itself through fmt.Stringer:

  - HTTPServerService: the API server with graceful shutdown.
  - SchedulerService: interval-driven discovery runs.
  - EventBusService: the watermill router carrying feedback.
  - ListenerService: one delivery channel's inbound actions.
  - StoreGCService: Badger value log compaction.

Returning ctx.Err() on cancellation tells suture the stop was requested.
Any other error is a failure and the service is restarted with backoff.
*/
package services
