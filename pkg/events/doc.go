/*
Package events is an in-memory pub/sub broker for sandbox lifecycle
notifications. It is topic-agnostic: every Publish is broadcast to
every current Subscriber over a buffered channel, non-blocking on the
publisher side and best-effort on delivery (a subscriber whose buffer
is full silently drops the event rather than stalling the broker).

# Event Types

	EventSandboxMaterialized  - artifact parsed and written to disk
	EventSandboxStarting      - process launch requested
	EventSandboxRunning       - health probe succeeded
	EventSandboxStopping      - stop requested
	EventSandboxStopped       - process exited cleanly on request
	EventSandboxExited        - process exited without being asked to
	EventHealthTimeout        - health probe never succeeded in time
	EventPolicyDenied         - admission policy rejected a start

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&events.Event{Type: events.EventSandboxRunning, Service: "api"})

	for event := range sub {
		log.Info().Str("type", string(event.Type)).Msg(event.Message)
	}
*/
package events
