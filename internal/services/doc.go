// Package services provides the centralized service registry for recalld.
//
// Registry pattern for accessing the core services (tool filter,
// summarizer, store, retriever, session registry, pipeline). Use Build()
// to wire everything from one configuration, or NewRegistry() to assemble
// a registry from pre-built instances, then accessor methods to retrieve
// individual services.
package services
