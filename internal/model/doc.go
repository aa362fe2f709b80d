package model

// Package model defines domain data structures shared by the gateway, the
// runners and the job orchestrator: jobs and their status enum, conversion
// and download requests, and probed media metadata. Jobs are plain values so
// every update produces a new copy that can be handed to subscribers safely.
