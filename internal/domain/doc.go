// Package domain contains the core business entities of the application:
// sessions, rooms, and the tracked entities (renders, assets, documents)
// whose lifecycle is driven by background job outcomes.
package domain
