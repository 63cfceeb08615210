// Package identity implements the audited identity core of the habitloop
// service: profile reads and writes that always leave an audit trail, and the
// two-phase password recovery flow.
//
// Audited profile store:
//   - Profiles wraps every read and update attempt, success or failure, with
//     exactly one audit entry describing the actor, the resource, and the
//     before/after state. Soft-deleted rows (non-null deleted_at) behave
//     exactly like absent rows.
//   - Audit writes run best-effort through an AuditSink: a sink failure is
//     logged and swallowed so it can never block or roll back the operation
//     it describes. The trail is therefore best-effort, not transactional
//     with the mutation it records.
//
// Recovery flow:
//   - RecoveryFlow is an explicit Request|Update state machine. A recovery
//     link carries single-use tokens in the URL fragment; ParseRecoveryLink
//     extracts them, and a successful exchange through a CredentialExchanger
//     moves the flow into Update mode. Failures keep the flow in Request
//     mode with a plain-language message, never raw backend error text.
//   - LocalCredentialExchanger is a reference exchanger for deployments
//     without an external identity provider, backed by single-use recovery
//     tokens and bcrypt credentials.
package identity
