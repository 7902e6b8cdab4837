// Package alerts evaluates per-device alert rules against run snapshots and
// delivers notifications to webhooks.
//
// Rules are "field op value" expressions evaluated for every device of every
// published snapshot:
//
//	temperature > 85      gflops < 1000      errors > 0
//	window_errors > 10    processed == 0     state == dead
//	verdict == FAULTY
//
// A firing rule is suppressed for its cooldown after it fires; a rule whose
// condition stops holding is resolved. Fired and resolved alerts, and the
// final run result (NotifyResult), go to every configured slack, teams or
// http webhook.
package alerts
