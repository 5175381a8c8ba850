// Package statemachine implements small finite state machines.
//
// A Definition is an immutable transition table built once and shared. Each
// tracked entity gets its own Machine from Definition.Start, so concurrent
// entities never contend on a lock:
//
//	def := statemachine.MustDefine("received", []statemachine.Transition{
//		{From: "received", Event: "verify", To: "verified"},
//		{From: "received", Event: "reject", To: "rejected"},
//	}, "verified", "rejected")
//
//	m := def.Start(statemachine.WithHook(logTransition))
//	if err := m.Fire(ctx, "verify"); err != nil { ... }
package statemachine
