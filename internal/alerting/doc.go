// Package alerting is the alert decision engine for PAMS. It turns raw risk
// signals (Candidates) into prioritized, deduplicated, SLA-bound Alerts and
// escalates unattended ones. Persistence, product lookups and notification
// delivery are collaborators behind the Repository, Catalog and Notifier
// interfaces.
package alerting
