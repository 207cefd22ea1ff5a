/*
Package log provides lockring's structured logging, built on zerolog.

Init configures the global Logger from a Config (level, JSON vs console
output, destination writer); every other package reaches it through the
package-level Info/Debug/Warn/Error/Errorf/Fatal helpers, or through a
component-scoped child logger from WithComponent/WithNodeID/WithLockID/
WithClientID so every log line carries enough context to correlate a
lock operation across nodes without a distributed tracer.
*/
package log
