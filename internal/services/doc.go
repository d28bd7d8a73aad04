// Package services provides the error taxonomy and context annotation
// helpers shared by stage collaborators and the pipeline orchestrator.
package services
