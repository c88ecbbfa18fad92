/*
Package queue runs pyramid jobs and tracks their lifecycle.

A job is described by a Spec and observed through a Handle:

	queued -> running -> succeeded | failed | timed-out

Handle.Result is nil until the job succeeds. Done is closed when the job
settles in any terminal state.

Two Queue implementations exist. Local runs jobs on an in-process worker pool
with three FIFO priority lanes, per-job timeouts, retries of transient
failures with exponential backoff, and memory backpressure. The amqpqueue
subpackage publishes specs to RabbitMQ and settles handles from worker
replies.

Errors wrapped with Permanent are never retried.
*/
package queue
