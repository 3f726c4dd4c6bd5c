// Package crawler defines the records, ports, and lifecycle rules shared by the
// discovery, fan-out, job, and dataset subsystems of the athlete results crawler.
package crawler
