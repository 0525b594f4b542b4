// Package event provides a pub-sub event bus for decoupled communication
// between the elmctl protocols and whatever is observing them.
//
// Coordinators never mutate UI or workspace state directly. They publish an
// event and any number of observers (report writers, the edit session, a
// tree view) react to it.
//
// # Event Categories
//
// Lock events:
//   - [SignedOutEvent]: the remote granted a sign-out (possibly by override)
//   - [SignedInEvent]: a lock held by this process was released
//
// Content events:
//   - [RetrievedEvent]: element or dependency content was fetched
//   - [UploadedEvent]: the remote accepted an update
//   - [ConflictEvent]: an update hit a fingerprint mismatch
//   - [EditedEvent]: a workspace file was saved during an edit session
//
// Batch events:
//   - [BatchCompletedEvent]: a checkout batch finished
//
// # Usage
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeSignedOut, func(e event.Event) {
//	    so := e.(event.SignedOutEvent)
//	    fmt.Println("locked", so.Path)
//	})
//
//	// Or receive events as messages on a channel
//	ch, cancel := bus.SubscribeChan(event.TypeRetrieved, 16)
//	defer cancel()
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers run synchronously on the
// publishing goroutine and are protected against panics.
package event
