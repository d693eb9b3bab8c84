// Package generation provides interfaces for interacting with external AI
// and media services. It abstracts the details of render generation, chat
// agents, document composition, and image optimization so the application
// can run generation jobs without coupling to specific providers.
package generation
