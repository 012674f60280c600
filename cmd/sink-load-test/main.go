package main

import (
	"github.com/informalsystems/sink-load-test/pkg/loadtest"
	_ "github.com/informalsystems/sink-load-test/pkg/sink/all"
)

const appLongDesc = `Load testing application for message brokers and event ingestion services.
Spawns a number of concurrent workers, each of which synthesizes JSON payloads
of a configurable size and pushes them into the configured message sink, either
one at a time or in batches. Progress is reported at every checkpoint, and
failed sends are reported and followed by a short backoff.

To send 1000 messages of 1KiB each from 8 workers to an Event Hub:
    sink-load-test --client event-hub -t 8 -m 1000 -s 1024 \
        -c "Endpoint=sb://ns.servicebus.windows.net/;SharedAccessKeyName=...;SharedAccessKey=..." \
        --name loadtest

To send batches of 100 messages to a Kafka topic until interrupted:
    sink-load-test --client kafka -b --batch-size 100 -m 0 \
        -c broker1:9092,broker2:9092 --name loadtest

To print the events arriving at an Event Hub:
    sink-load-test receive -c "Endpoint=sb://..." --name loadtest

To see which message sinks are supported:
    sink-load-test clients
`

func main() {
	loadtest.Run(&loadtest.CLIConfig{
		AppName:       "sink-load-test",
		AppShortDesc:  "Load testing application for message sinks",
		AppLongDesc:   appLongDesc,
		DefaultClient: "event-hub",
		DefaultSource: "event-hub",
	})
}
