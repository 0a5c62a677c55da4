/*
Package worker runs a service worker loop with observability and back-off for
no work found.

It drives the periodic jobs other packages need, such as the system metrics
reporter, and can be used for any regular work a service might do, such as
consuming queue-like data sources.
*/
package worker
