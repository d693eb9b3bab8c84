// Package service implements the application's business operations: request
// handling for renders, assets, documents, and chat, plus the worker-side
// processors that drive each entity through its lifecycle. Services
// coordinate the stores, the durable job queue, the realtime relay, and the
// external generation providers; HTTP handlers and worker pools stay thin.
package service
