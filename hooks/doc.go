// Package hooks provides the ordered chain of instance lifecycle hooks.
//
// A Hook runs for every instance the trigger prepares and may adjust the
// InstanceBuilder or refuse the instance. Hooks that also implement
// AppConfigurer run once when the application is loaded.
//
// Hooks run strictly in registration order and later hooks may rely on
// earlier ones. The first failure aborts the lifecycle step and is returned to
// the caller. Nothing is retried.
//
// The built-in hooks, in the order the trigger registers them:
//
//	StdioLogging                 guest stdout/stderr to the terminal and log files
//	SQLStatementExecutor         run --sqlite statements against the default database
//	InitialKVSetter              seed the default key-value store
//	SQLiteDefaultStoreSummary    log where the default database lives
//	KeyValueDefaultStoreSummary  log where the default key-value store lives
//	MemoryTracker                count prepared instances
//	MaxInstanceMemory            cap instance memory, only when configured
package hooks
