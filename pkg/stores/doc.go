// Package stores provides the persistence layer of the governor.
//
// SQLiteStore backs every collaborator the policy engine needs: site
// ownership (policy.SiteDirectory), plans and monthly usage
// (policy.SubscriptionLookup), approval requests (policy.ApprovalStore),
// the decision audit log (policy.DecisionRecorder) and action leases
// (lease.Claimer). Schema changes ship as embedded golang-migrate
// migrations.
//
// PostgresApprovalStore keeps approval requests in PostgreSQL for
// deployments where several governor instances share one approval queue.
package stores
