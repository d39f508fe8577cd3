// Package derivative dispatches derivative-generation jobs to external
// workers over a message broker and ingests the results they call back with.
//
// A content mutation is described as an Activity Streams event
// (EventBuilder). Derivative actions specialize the event into a job
// (JobBuilder) that names the source artifact, a signed callback URL and the
// storage path the result should land on. The job is published to a named
// queue (Publisher) together with a short-lived bearer token. When the worker
// finishes it calls back; the Ingester stores the bytes under the requested
// location and attaches them to the target content object.
//
// Correlation between dispatch and callback happens entirely through the
// signed callback URL and the token. There is no in-process job state, and
// the last callback applied for a target field wins.
//
// Repositories (memory, Postgres), blob stores (memory, filesystem, S3,
// MinIO) and publishers (STOMP, Kafka, memory) are provided under
// subpackages.
package derivative
