// Package alerts implements the rule evaluation engine and notification
// delivery for echoscope. Rules are evaluated against each new health report;
// notifications go to Teams, Slack, generic HTTP webhooks, or email through
// the Brevo transactional API.
package alerts
