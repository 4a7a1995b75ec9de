// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

/*
Package supervisor runs the long-lived parts of the daemon under suture v4.

The tree groups services into layers that restart independently:

	xpfeed
	├── store-layer
	│   └── StoreGCService
	├── messaging-layer
	│   ├── EventBusService
	│   └── ListenerService (one per delivery channel)
	├── discovery-layer
	│   └── SchedulerService
	└── api-layer
	    └── HTTPServerService (when server.enabled)

Supervisor events are logged through sutureslog into the zerolog-backed
slog handler.

# Usage

	tree, err := supervisor.NewSupervisorTree(slog.New(logging.NewSlogHandler()), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddMessagingService(services.NewEventBusService(bus))
	tree.AddDiscoveryService(services.NewSchedulerService(pipe.Run, services.SchedulerConfig{...}))
	return tree.Serve(ctx)
*/
package supervisor
