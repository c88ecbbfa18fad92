// Package amqpqueue distributes pyramid jobs over RabbitMQ.
//
// The Publisher implements queue.Queue: each Spec is published as a JSON
// message to a durable priority queue with a reply-to queue and the job id
// as correlation id. Workers consume with manual acks and prefetch, run the
// job through a local queue.Local (so retries and timeouts behave the same
// as in-process), and publish a Reply that settles the publisher's handle.
//
// A "running" reply is sent when a worker picks a job up; the terminal reply
// follows when it settles.
package amqpqueue
