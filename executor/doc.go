// Package executor runs one HTTP request through a fresh guest instance.
//
// An Executor owns the hooks chain, the instance source and the memory
// tracker. LoadApp runs the app configuration hooks once; every request then
// gets its own instance through App.InstanceBuilder and
// TriggerInstanceBuilder.Instantiate, which runs the prepare hooks.
//
// WasiHTTPExecutor.Execute drives the invocation:
//
//  1. instantiate the guest, running every prepare hook
//  2. rewrite the request headers with the guest-visible set
//  3. take the instance's outbound HTTP capability
//  4. split the request and bound body reads with BodyReadTimeout
//  5. register the request and a response outparam
//  6. load the versioned entrypoint and start the guest on its own goroutine
//  7. wait for the response signal
//
// If the guest responds, the response is returned at once and the guest keeps
// running under a monitor that only logs what happens next. If the signal
// closes without a response, Execute waits for the guest and returns its
// error, or ResponseNotProduced when it returned cleanly.
//
// A guest is never cancelled once started, even when the caller's context is.
// Shutdown waits for the outstanding monitors.
package executor
