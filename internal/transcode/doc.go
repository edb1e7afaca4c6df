// Package transcode schedules and runs HLS transcode jobs.
//
// A single Scheduler owns the FIFO of waiting file ids and the set of jobs
// holding one of max_concurrent slots. Each admitted job runs on its own
// goroutine through a Processor; the production Processor is Worker, which
// checks preconditions, runs the hardware then software encoder plan through
// encoding.Runner, and records the result on the file's metadata record.
//
// Finished job outcomes stay queryable for a bounded time so pollers can
// observe failures after the job left the active set.
package transcode
