// Package driver fans a batch of command invocations out against a target
// endpoint and joins on their completion.
//
// A batch is a fixed number of invocations sharing one mode:
//
//   - parallel: every invocation is handed to a bounded worker pool without
//     waiting for earlier ones, then a single join barrier waits until all of
//     them have reached a terminal outcome.
//   - serial: each invocation is started only after its predecessor finished,
//     so the target observes commands in program order.
//
// The driver does not look at what the target answers. An Invoker performs
// one network-visible interaction and reports an error or nil; the driver
// tallies those outcomes into a BatchResult. A failed invocation never aborts
// its siblings. Only invalid batch parameters (ConfigurationError) and the
// inability to dispatch an invocation (DispatchFailure) make Run return an
// error.
//
// Every invocation carries a deadline, and the join barrier can carry one
// too. Expired invocations are recorded as failed with a cause wrapping
// ErrTimeout, so a hung target cannot block the caller forever.
package driver
