// Package all registers every message sink and event source shipped with the
// load generator. Import it for its side effects.
package all

import (
	_ "github.com/informalsystems/sink-load-test/pkg/sink/eventgrid"
	_ "github.com/informalsystems/sink-load-test/pkg/sink/eventhubs"
	_ "github.com/informalsystems/sink-load-test/pkg/sink/kafka"
	_ "github.com/informalsystems/sink-load-test/pkg/sink/memory"
	_ "github.com/informalsystems/sink-load-test/pkg/sink/mqtt"
	_ "github.com/informalsystems/sink-load-test/pkg/sink/nats"
	_ "github.com/informalsystems/sink-load-test/pkg/sink/redis"
	_ "github.com/informalsystems/sink-load-test/pkg/sink/servicebus"
	_ "github.com/informalsystems/sink-load-test/pkg/sink/storagequeue"
	_ "github.com/informalsystems/sink-load-test/pkg/sink/websocket"
)
