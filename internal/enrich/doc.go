// Package enrich provides the decision pipeline that turns a raw monitoring alert
// into a notification-ready EnrichedAlert. It defines the severity classifier,
// the PatientDirectory capability and its store adapter, the recipient resolver,
// the Pipeline orchestrator, and the domain models they share.
package enrich
