// Package progress tracks completed work for a job and estimates the time remaining.
package progress
