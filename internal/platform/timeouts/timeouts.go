// Package timeouts defines shared timeout constants used across the replica
// process. Centralizing these values keeps the durations discoverable.
package timeouts

import "time"

// HTTPRequest caps a single request attempt against the remote event store.
// Event pages include the body read; snapshots only wait this long for headers.
const HTTPRequest = 30 * time.Second

// SnapshotDownload caps one full snapshot download, body included.
const SnapshotDownload = 10 * time.Minute

// Shutdown limits how long the health server waits for in-flight RPCs during
// graceful shutdown.
const Shutdown = 5 * time.Second

// StoreOpen caps the time allowed to open and migrate local storage.
const StoreOpen = 10 * time.Second
