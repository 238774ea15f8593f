// Package event provides a small typed publish/subscribe primitive used to
// fan out state changes between components.
//
// # Overview
//
// An Emitter[T] delivers values synchronously, in subscription order, to
// every active subscriber. Subscribers receive a Subscription handle whose
// Cancel method is idempotent and safe to call from any goroutine,
// including from inside a handler.
//
// # Usage
//
//	em := event.NewEmitter[string]()
//	sub := em.Subscribe(func(s string) { fmt.Println(s) })
//	em.Emit("hello")
//	sub.Cancel()
//
// Closing an emitter cancels every subscription and silences all further
// emits. Emit and Subscribe on a closed emitter are no-ops.
package event
